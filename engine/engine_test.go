//go:build linux

// File: engine/engine_test.go
// License: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackServer(t *testing.T, cfg api.Config) *Engine {
	t.Helper()
	e := New(WithPollInterval(20 * time.Millisecond))
	require.NoError(t, e.Launch(cfg, api.KindTCPServer))
	t.Cleanup(func() {
		e.Cancel()
		for e.LoopTick(nil) == nil {
		}
	})
	return e
}

func dial(t *testing.T, e *Engine) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", e.LocalAddr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCapacityOneSlotIsReused(t *testing.T) {
	e := newLoopbackServer(t, loopbackConfig(1))
	r := &recorder{}

	a := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })

	msg := []byte("0123456789")
	_, err := a.Write(msg)
	require.NoError(t, err)
	tickUntil(t, e, r, func() bool { return r.count(api.EventRecv) == 1 })
	assert.Equal(t, msg, r.last(api.EventRecv).Payload)

	require.NoError(t, a.Close())
	tickUntil(t, e, r, func() bool { return r.count(api.EventDisconnect) == 1 })
	assert.ErrorIs(t, r.last(api.EventDisconnect).Err, api.ErrPeerClosed)
	assert.Equal(t, api.StateAccepting, e.conns[0].state)

	dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 2 })

	want := []api.EventKind{api.EventConnect, api.EventRecv, api.EventDisconnect, api.EventConnect}
	if diff := cmp.Diff(want, r.kinds()); diff != "" {
		t.Fatalf("event sequence (-want +got):\n%s", diff)
	}
	for _, ev := range r.events {
		assert.Equal(t, api.ConnID(1), ev.ConnID)
	}
	assert.NotEqual(t, r.events[0].Session, r.events[3].Session)
	assert.Len(t, e.conns, 1)
}

func TestSendsCompleteInSubmissionOrder(t *testing.T) {
	cfg := loopbackConfig(1)
	cfg.AutoRecv = false
	e := newLoopbackServer(t, cfg)
	r := &recorder{}

	peer := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })

	for _, p := range []string{"A", "B", "C"} {
		require.NoError(t, e.Post(1, api.OpSend, []byte(p), nil))
	}
	tickUntil(t, e, r, func() bool { return r.count(api.EventSend) == 3 })

	var got []string
	for _, ev := range r.events {
		if ev.Kind == api.EventSend {
			require.NoError(t, ev.Err)
			got = append(got, string(ev.Payload))
		}
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, got); diff != "" {
		t.Fatalf("send order (-want +got):\n%s", diff)
	}

	buf := make([]byte, 3)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(buf))
}

func TestServerDisconnectRearmsAccept(t *testing.T) {
	e := newLoopbackServer(t, loopbackConfig(1))
	r := &recorder{}

	peer := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })

	require.NoError(t, e.Post(1, api.OpDisconnect, nil, nil))
	tickUntil(t, e, r, func() bool { return r.count(api.EventDisconnect) == 1 })
	assert.NoError(t, r.last(api.EventDisconnect).Err)
	assert.Equal(t, api.StateAccepting, e.conns[0].state)

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 2 })
	assert.NoError(t, r.last(api.EventConnect).Err)
}

func TestHTTPServerFramesPipelinedRequests(t *testing.T) {
	cfg := loopbackConfig(2)
	cfg.IsHTTP = true
	e := newLoopbackServer(t, cfg)
	r := &recorder{}

	peer := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })

	_, err := peer.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n" +
		"POST /b HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nxyz"))
	require.NoError(t, err)
	tickUntil(t, e, r, func() bool { return r.count(api.EventRecv) == 2 })

	var paths []string
	for _, ev := range r.events {
		if ev.Kind == api.EventRecv {
			require.NoError(t, ev.Err)
			require.NotNil(t, ev.Request)
			paths = append(paths, ev.Request.Method+" "+ev.Request.URL.Path)
		}
	}
	assert.Equal(t, []string{"GET /a", "POST /b"}, paths)
}

func TestHTTPServerRejectsOversizedHeader(t *testing.T) {
	cfg := loopbackConfig(1)
	cfg.IsHTTP = true
	cfg.MaxHeaderBytes = 32
	e := newLoopbackServer(t, cfg)
	r := &recorder{}

	peer := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })
	_, err := peer.Write([]byte("GET /a-rather-long-path HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	tickUntil(t, e, r, func() bool { return r.count(api.EventDisconnect) == 1 })
	assert.ErrorIs(t, r.last(api.EventDisconnect).Err, api.ErrProtocol)
	assert.Zero(t, r.count(api.EventRecv))
}

func TestHTTPServerRejectsHugeContentLength(t *testing.T) {
	cfg := loopbackConfig(1)
	cfg.IsHTTP = true
	cfg.MaxBodyBytes = 0
	e := newLoopbackServer(t, cfg)
	r := &recorder{}

	peer := dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })
	_, err := peer.Write([]byte("POST / HTTP/1.1\r\nContent-Length: 9223372036854775807\r\n\r\n"))
	require.NoError(t, err)

	tickUntil(t, e, r, func() bool { return r.count(api.EventDisconnect) == 1 })
	assert.ErrorIs(t, r.last(api.EventDisconnect).Err, framing.ErrBodyTooLarge)
	assert.Zero(t, r.count(api.EventRecv))

	// The slot is serviceable again.
	tickUntil(t, e, r, func() bool { return e.conns[0].state == api.StateAccepting })
	dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 2 })
}

func TestClientConnectSendsAndFramesResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	served := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			served <- err.Error()
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		served <- string(buf[:n])
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	cfg := loopbackConfig(1)
	cfg.IsHTTP = true
	e := New(WithPollInterval(20 * time.Millisecond))
	require.NoError(t, e.Launch(cfg, api.KindTCPClient))
	r := &recorder{}

	addr, err := api.ParseAddress(ln.Addr().String())
	require.NoError(t, err)
	req := "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
	id, err := e.Connect(addr, []byte(req), time.Second)
	require.NoError(t, err)
	assert.Equal(t, api.ClientConn, id)

	tickUntil(t, e, r, func() bool { return r.count(api.EventRecv) == 1 })
	assert.Equal(t, req, <-served)

	if diff := cmp.Diff([]api.EventKind{api.EventConnect, api.EventSend, api.EventRecv}, r.kinds()); diff != "" {
		t.Fatalf("event sequence (-want +got):\n%s", diff)
	}
	ev := r.last(api.EventRecv)
	require.NotNil(t, ev.Response)
	assert.Equal(t, 200, ev.Response.StatusCode)
	body, err := io.ReadAll(ev.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.True(t, r.events[0].Peer.Equal(addr))

	tickUntil(t, e, r, func() bool { return r.count(api.EventDisconnect) == 1 })
	assert.ErrorIs(t, r.last(api.EventDisconnect).Err, api.ErrPeerClosed)
	assert.Equal(t, api.StateIdle, e.conns[0].state)

	e.Cancel()
	tickUntilStopped(t, e, r)
	e.Wait()
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := api.ParseAddress(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	e := New()
	require.NoError(t, e.Launch(loopbackConfig(1), api.KindTCPClient))
	defer func() {
		e.Cancel()
		tickUntilStopped(t, e, &recorder{})
	}()

	_, err = e.Connect(addr, nil, 200*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, api.CodeOS, api.CodeOf(err))
}

func TestCancelDisconnectsAndStops(t *testing.T) {
	e := New(WithPollInterval(20 * time.Millisecond))
	require.NoError(t, e.Launch(loopbackConfig(2), api.KindTCPServer))
	r := &recorder{}

	dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })

	e.Cancel()
	tickUntilStopped(t, e, r)
	assert.Equal(t, 1, r.count(api.EventDisconnect))
	assert.NoError(t, r.last(api.EventDisconnect).Err)

	e.Wait()
	assert.ErrorIs(t, e.LoopTick(r), ErrStopped)
	assert.ErrorIs(t, e.Post(1, api.OpRecv, nil, nil), api.ErrNotConnected)

	_, err := net.DialTimeout("tcp", e.LocalAddr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed")
}

func TestRunStopsWithContext(t *testing.T) {
	e := New()
	require.NoError(t, e.Launch(loopbackConfig(1), api.KindTCPServer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	e.Wait()
}

func TestRelaunchAfterStop(t *testing.T) {
	e := New(WithPollInterval(20 * time.Millisecond))
	require.NoError(t, e.Launch(loopbackConfig(1), api.KindTCPServer))
	assert.Error(t, e.Launch(loopbackConfig(1), api.KindTCPServer))

	e.Cancel()
	tickUntilStopped(t, e, &recorder{})
	e.Wait()

	require.NoError(t, e.Launch(loopbackConfig(1), api.KindTCPServer))
	r := &recorder{}
	dial(t, e)
	tickUntil(t, e, r, func() bool { return r.count(api.EventConnect) == 1 })
	e.Cancel()
	tickUntilStopped(t, e, r)
}

func TestAccessorsAreSafeAcrossRelaunch(t *testing.T) {
	e := New(WithPollInterval(5 * time.Millisecond))
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
				_ = e.Kind()
				_ = e.LocalAddr().String()
			}
		}
	}()

	kinds := []api.Kind{api.KindTCPServer, api.KindUDP, api.KindTCPServer}
	for _, kind := range kinds {
		require.NoError(t, e.Launch(loopbackConfig(1), kind))
		assert.Equal(t, kind, e.Kind())
		assert.True(t, e.LocalAddr().IsValid())
		e.Cancel()
		tickUntilStopped(t, e, &recorder{})
	}
	close(stop)
	<-readerDone
}

func TestUDPLoopback(t *testing.T) {
	e := New(WithPollInterval(20 * time.Millisecond))
	require.NoError(t, e.Launch(loopbackConfig(1), api.KindUDP))
	r := &recorder{}
	defer func() {
		e.Cancel()
		tickUntilStopped(t, e, r)
	}()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()
	ap := peer.LocalAddr().(*net.UDPAddr).AddrPort()
	peerAddr := api.NewAddress(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))

	require.NoError(t, e.Post(0, api.OpSend, []byte("ping"), &peerAddr))
	tickUntil(t, e, r, func() bool { return r.count(api.EventSend) == 1 })
	require.NoError(t, r.last(api.EventSend).Err)

	buf := make([]byte, 16)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	n, from, err := peer.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, e.LocalAddr().AddrPort(), from)

	_, err = peer.WriteToUDPAddrPort([]byte("pong"), e.LocalAddr().AddrPort())
	require.NoError(t, err)
	tickUntil(t, e, r, func() bool { return r.count(api.EventRecv) == 1 })
	ev := r.last(api.EventRecv)
	require.NoError(t, ev.Err)
	assert.Equal(t, "pong", string(ev.Payload))
	assert.True(t, ev.Peer.Equal(peerAddr))
	assert.Equal(t, api.NoConn, ev.ConnID)
}

func TestUDPPostValidation(t *testing.T) {
	e := New()
	require.NoError(t, e.Launch(loopbackConfig(1), api.KindUDP))
	defer func() {
		e.Cancel()
		tickUntilStopped(t, e, &recorder{})
	}()
	to, err := api.ParseAddress("127.0.0.1:9")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Post(0, api.OpSend, []byte("x"), nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, e.Post(1, api.OpSend, []byte("x"), &to), api.ErrInvalidArgument)
	assert.ErrorIs(t, e.Post(0, api.OpRecv, nil, nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, e.Post(0, api.OpDisconnect, nil, nil), api.ErrInvalidArgument)
	assert.NoError(t, e.Post(0, api.OpSend, []byte("x"), &to))
}

func TestUDPMulticastMembership(t *testing.T) {
	cfg := api.DefaultConfig()
	e := New()
	require.NoError(t, e.Launch(cfg, api.KindUDP))
	defer func() {
		e.Cancel()
		tickUntilStopped(t, e, &recorder{})
	}()

	group := netip.MustParseAddr("239.255.10.10")
	if err := e.JoinGroup(group, nil); err != nil {
		t.Skipf("multicast unavailable: %s", err)
	}
	assert.NoError(t, e.SetMulticastLoopback(true))
	assert.NoError(t, e.LeaveGroup(group, nil))
}

func TestMulticastRequiresUDP(t *testing.T) {
	e := newLoopbackServer(t, loopbackConfig(1))
	err := e.JoinGroup(netip.MustParseAddr("239.255.10.10"), nil)
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
}
