//go:build linux

// File: internal/socket/socket_linux.go
// License: Apache-2.0
//
// Linux socket primitive on golang.org/x/sys/unix.

package socket

import (
	"errors"
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

// Socket owns one non-blocking descriptor.
type Socket struct {
	fd     int
	family api.AddrFamily
	typ    Type
}

// New creates a non-blocking, close-on-exec socket with the engine defaults:
// TCP_NODELAY for streams, dual-stack for v6 and zero blocking timeouts.
func New(typ Type, family api.AddrFamily) (*Socket, error) {
	domain, err := domainOf(family)
	if err != nil {
		return nil, err
	}
	stype, proto := unix.SOCK_STREAM, unix.IPPROTO_TCP
	if typ == Datagram {
		stype, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	}
	fd, err := unix.Socket(domain, stype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, api.Wrap(api.CodeResource, "socket create", err)
	}
	s := &Socket{fd: fd, family: family, typ: typ}
	if err := s.applyDefaults(); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

// Adopt wraps an already open descriptor, e.g. one returned by accept.
func Adopt(fd int, family api.AddrFamily, typ Type) *Socket {
	return &Socket{fd: fd, family: family, typ: typ}
}

func (s *Socket) applyDefaults() error {
	if s.typ == Stream {
		if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return api.OSError("setsockopt TCP_NODELAY", err)
		}
	}
	if s.family == api.FamilyIPv6 {
		if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return api.OSError("setsockopt IPV6_V6ONLY", err)
		}
	}
	var zero unix.Timeval
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &zero); err != nil {
		return api.OSError("setsockopt SO_RCVTIMEO", err)
	}
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &zero); err != nil {
		return api.OSError("setsockopt SO_SNDTIMEO", err)
	}
	return nil
}

// FD returns the descriptor or Invalid.
func (s *Socket) FD() int {
	if s == nil {
		return Invalid
	}
	return s.fd
}

// Valid reports whether the Socket still owns a descriptor.
func (s *Socket) Valid() bool { return s != nil && s.fd != Invalid }

// Family returns the address family.
func (s *Socket) Family() api.AddrFamily { return s.family }

// Shutdown shuts down and closes the descriptor. Safe to call repeatedly.
func (s *Socket) Shutdown() {
	if s == nil || s.fd == Invalid {
		return
	}
	fd := s.fd
	s.fd = Invalid
	if s.typ == Stream {
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	}
	_ = unix.Close(fd)
}

// Release gives up ownership of the descriptor without closing it.
func (s *Socket) Release() int {
	fd := s.fd
	s.fd = Invalid
	return fd
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolint(on)); err != nil {
		return api.OSError("setsockopt SO_REUSEADDR", err)
	}
	return nil
}

// Bind binds the socket to ap.
func (s *Socket) Bind(ap netip.AddrPort) error {
	sa, err := ToSockaddr(ap, s.family)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return api.OSError("bind", err).WithContext("addr", ap.String())
	}
	return nil
}

// Listen marks a stream socket as passive.
func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return api.OSError("listen", err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	return Sockname(s.fd)
}

// ConnectAndWait starts a non-blocking connect and waits on the calling
// goroutine until it completes or timeout elapses.
func (s *Socket) ConnectAndWait(to netip.AddrPort, timeout time.Duration) error {
	sa, err := ToSockaddr(to, s.family)
	if err != nil {
		return err
	}
	err = unix.Connect(s.fd, sa)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR):
		return api.OSError("connect", err).WithContext("addr", to.String())
	}

	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return api.Wrap(api.CodeTimedOut, "connect", nil).WithContext("addr", to.String())
		}
		n, err := unix.Poll(fds, int(left.Milliseconds())+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return api.OSError("poll", err)
		}
		if n > 0 {
			break
		}
	}
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return api.OSError("getsockopt SO_ERROR", err)
	}
	if soerr != 0 {
		return api.OSError("connect", unix.Errno(soerr)).WithContext("addr", to.String())
	}
	return nil
}

// SetNoDelay disables Nagle on an accepted descriptor.
func SetNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return api.OSError("setsockopt TCP_NODELAY", err)
	}
	return nil
}

// Sockname returns the local address of fd.
func Sockname(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, api.OSError("getsockname", err)
	}
	return FromSockaddr(sa), nil
}

// Close closes a raw descriptor that no Socket owns.
func Close(fd int) {
	if fd != Invalid {
		_ = unix.Close(fd)
	}
}

// ToSockaddr converts ap for a socket of the given family. v4 addresses are
// mapped into v6 for dual-stack sockets.
func ToSockaddr(ap netip.AddrPort, family api.AddrFamily) (unix.Sockaddr, error) {
	ip := ap.Addr()
	if !ip.IsValid() {
		return nil, api.NewError(api.CodeInvalidArgument, "empty address")
	}
	if family == api.FamilyIPv6 {
		sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ip.As16()}
		if z := ip.Zone(); z != "" {
			sa.ZoneId = zoneID(z)
		}
		return sa, nil
	}
	ip = ip.Unmap()
	if !ip.Is4() {
		return nil, api.NewError(api.CodeInvalidArgument, "v6 address on a v4 socket").
			WithContext("addr", ap.String())
	}
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ip.As4()}, nil
}

// FromSockaddr converts a unix sockaddr; unknown kinds yield the zero value.
func FromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			ip = ip.WithZone(zoneName(sa.ZoneId))
		}
		return netip.AddrPortFrom(ip, uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

func domainOf(family api.AddrFamily) (int, error) {
	switch family {
	case api.FamilyIPv4:
		return unix.AF_INET, nil
	case api.FamilyIPv6:
		return unix.AF_INET6, nil
	default:
		return 0, api.NewError(api.CodeInvalidArgument, "unknown address family").WithContext("family", family)
	}
}

func boolint(b bool) int {
	if b {
		return 1
	}
	return 0
}
