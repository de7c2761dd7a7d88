// File: resolver/resolver.go
// License: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"golang.org/x/net/idna"
)

// ErrNoSuchHost means the name does not exist or has no addresses.
var ErrNoSuchHost = errors.New("no such host")

// lookupFunc returns the addresses of an ASCII host name and its canonical
// name, which may be empty.
type lookupFunc func(ctx context.Context, host string) ([]netip.Addr, string, error)

// System resolves through the operating system resolver.
type System struct {
	Logger  api.Logger
	Metrics *control.Metrics

	testableLookup lookupFunc
}

// Resolve resolves host and port with the system resolver.
func Resolve(host, port string, timeout time.Duration) ([]api.Address, error) {
	var s System
	return s.Resolve(context.Background(), host, port, timeout)
}

// Resolve returns every address of host with port attached. Each Address
// carries the canonical name as its display name.
func (s *System) Resolve(ctx context.Context, host, port string, timeout time.Duration) ([]api.Address, error) {
	lookup := s.testableLookup
	if lookup == nil {
		lookup = systemLookup
	}
	return resolve(ctx, s.Logger, s.Metrics, lookup, host, port, timeout)
}

func systemLookup(ctx context.Context, host string) ([]netip.Addr, string, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, "", ErrNoSuchHost
		}
		return nil, "", err
	}
	cname, err := net.DefaultResolver.LookupCNAME(ctx, host)
	if err != nil {
		cname = ""
	}
	return addrs, cname, nil
}

// resolve runs lookup on its own goroutine and races it against timeout.
func resolve(ctx context.Context, logger api.Logger, metrics *control.Metrics,
	lookup lookupFunc, host, port string, timeout time.Duration) ([]api.Address, error) {
	logger = api.ValidLoggerOrDefault(logger)
	if timeout <= 0 {
		return nil, api.NewError(api.CodeInvalidArgument, "resolve: timeout must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := parsePort(ctx, port)
	if err != nil {
		return nil, err
	}
	if ip, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []api.Address{api.NewAddress(netip.AddrPortFrom(ip, p))}, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, api.Wrap(api.CodeInvalidArgument, "resolve: invalid host", err).WithContext("host", host)
	}

	type result struct {
		addrs []netip.Addr
		cname string
		err   error
	}
	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		addrs, cname, err := lookup(ctx, ascii)
		ch <- result{addrs, cname, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if metrics != nil {
		metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}
	if r.err != nil {
		logger.Debugf("resolve %s: %s", ascii, r.err)
		return nil, classify(ascii, r.err)
	}
	if len(r.addrs) == 0 {
		return nil, api.Wrap(api.CodeOS, "resolve", ErrNoSuchHost).WithContext("host", ascii)
	}

	name := strings.TrimSuffix(r.cname, ".")
	if name == "" {
		name = ascii
	}
	out := make([]api.Address, 0, len(r.addrs))
	for _, ip := range r.addrs {
		out = append(out, api.NewAddress(netip.AddrPortFrom(ip.Unmap(), p)).WithName(name))
	}
	logger.Debugf("resolve %s: %d addresses (%s)", ascii, len(out), name)
	return out, nil
}

func classify(host string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return api.Wrap(api.CodeTimedOut, "resolve", err).WithContext("host", host)
	case errors.Is(err, ErrNoSuchHost):
		return api.Wrap(api.CodeOS, "resolve", err).WithContext("host", host)
	default:
		return api.OSError("resolve", err).WithContext("host", host)
	}
}

// parsePort accepts a decimal port or a service name such as "http".
func parsePort(ctx context.Context, port string) (uint16, error) {
	if n, err := strconv.ParseUint(port, 10, 16); err == nil {
		return uint16(n), nil
	}
	n, err := net.DefaultResolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return 0, api.Wrap(api.CodeInvalidArgument, "resolve: invalid port", err).WithContext("port", port)
	}
	return uint16(n), nil
}
