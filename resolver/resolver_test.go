// File: resolver/resolver_test.go
// License: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/miekg/dns"
	"github.com/momentics/hioload-net/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTimesOut(t *testing.T) {
	canceled := make(chan struct{})
	s := &System{testableLookup: func(ctx context.Context, host string) ([]netip.Addr, string, error) {
		<-ctx.Done()
		close(canceled)
		return nil, "", ctx.Err()
	}}

	start := time.Now()
	_, err := s.Resolve(context.Background(), "does-not-exist.invalid", "80", 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrTimedOut)
	assert.Less(t, elapsed, time.Second)
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("lookup was not cancelled")
	}
}

func TestResolveInvalidNameIsBounded(t *testing.T) {
	start := time.Now()
	_, err := Resolve("does-not-exist.invalid", "80", 50*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveAttachesCanonicalName(t *testing.T) {
	s := &System{testableLookup: func(ctx context.Context, host string) ([]netip.Addr, string, error) {
		assert.Equal(t, "xn--bcher-kva.example", host)
		return []netip.Addr{
			netip.MustParseAddr("192.0.2.1"),
			netip.MustParseAddr("2001:db8::1"),
		}, "cdn.example.", nil
	}}

	addrs, err := s.Resolve(context.Background(), "bücher.example", "http", time.Second)
	require.NoError(t, err)

	var got []string
	for _, a := range addrs {
		assert.Equal(t, "cdn.example", a.Name())
		got = append(got, a.String())
	}
	want := []string{"192.0.2.1:80", "[2001:db8::1]:80"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestResolveLiteralSkipsLookup(t *testing.T) {
	s := &System{testableLookup: func(context.Context, string) ([]netip.Addr, string, error) {
		t.Fatal("lookup must not run for literals")
		return nil, "", nil
	}}
	addrs, err := s.Resolve(context.Background(), "[::1]", "8080", time.Second)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "[::1]:8080", addrs[0].String())
}

func TestResolveErrors(t *testing.T) {
	s := &System{testableLookup: func(context.Context, string) ([]netip.Addr, string, error) {
		return nil, "", ErrNoSuchHost
	}}
	_, err := s.Resolve(context.Background(), "missing.example", "80", time.Second)
	assert.ErrorIs(t, err, ErrNoSuchHost)
	assert.Equal(t, api.CodeOS, api.CodeOf(err))

	_, err = s.Resolve(context.Background(), "missing.example", "no-such-service-name", time.Second)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = s.Resolve(context.Background(), "missing.example", "80", 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

// startDNSServer serves handler on a loopback UDP socket.
func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Net:               "udp",
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	done := make(chan error, 1)
	go func() { done <- srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() {
		_ = srv.Shutdown()
		<-done
	})
	return pc.LocalAddr().String()
}

func TestDNSResolve(t *testing.T) {
	server := startDNSServer(t, func(rw dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		switch {
		case q.Name != "www.example.test.":
			m.SetRcode(req, dns.RcodeNameError)
		case q.Qtype == dns.TypeA:
			cname, _ := dns.NewRR("www.example.test. 60 IN CNAME edge.example.test.")
			a, _ := dns.NewRR("edge.example.test. 60 IN A 198.51.100.7")
			m.Answer = append(m.Answer, cname, a)
		}
		_ = rw.WriteMsg(m)
	})

	d := &DNS{Server: server}
	addrs, err := d.Resolve(context.Background(), "www.example.test", "443", time.Second)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "198.51.100.7:443", addrs[0].String())
	assert.Equal(t, "edge.example.test", addrs[0].Name())

	_, err = d.Resolve(context.Background(), "nope.example.test", "443", time.Second)
	assert.True(t, errors.Is(err, ErrNoSuchHost))
}

func TestDNSResolveTimesOut(t *testing.T) {
	server := startDNSServer(t, func(dns.ResponseWriter, *dns.Msg) {})

	start := time.Now()
	_, err := (&DNS{Server: server}).Resolve(context.Background(), "www.example.test", "80", 50*time.Millisecond)
	assert.ErrorIs(t, err, api.ErrTimedOut)
	assert.Less(t, time.Since(start), time.Second)
}
