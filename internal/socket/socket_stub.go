//go:build !linux

// File: internal/socket/socket_stub.go
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package socket

import (
	"net"
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
)

// Socket is unusable on this platform.
type Socket struct {
	fd     int
	family api.AddrFamily
	typ    Type
}

// New reports api.ErrNotSupported.
func New(typ Type, family api.AddrFamily) (*Socket, error) { return nil, api.ErrNotSupported }

// Adopt wraps fd.
func Adopt(fd int, family api.AddrFamily, typ Type) *Socket {
	return &Socket{fd: fd, family: family, typ: typ}
}

func (s *Socket) FD() int {
	if s == nil {
		return Invalid
	}
	return s.fd
}

func (s *Socket) Valid() bool { return s != nil && s.fd != Invalid }
func (s *Socket) Family() api.AddrFamily { return s.family }
func (s *Socket) Shutdown() {}
func (s *Socket) Release() int {
	fd := s.fd
	s.fd = Invalid
	return fd
}
func (s *Socket) SetReuseAddr(bool) error { return api.ErrNotSupported }
func (s *Socket) Bind(netip.AddrPort) error { return api.ErrNotSupported }
func (s *Socket) Listen(int) error { return api.ErrNotSupported }
func (s *Socket) LocalAddr() (netip.AddrPort, error) { return netip.AddrPort{}, api.ErrNotSupported }
func (s *Socket) ConnectAndWait(netip.AddrPort, time.Duration) error { return api.ErrNotSupported }
func (s *Socket) JoinGroup(netip.Addr, *net.Interface) error { return api.ErrNotSupported }
func (s *Socket) LeaveGroup(netip.Addr, *net.Interface) error { return api.ErrNotSupported }
func (s *Socket) SetMulticastLoopback(bool) error { return api.ErrNotSupported }

// SetNoDelay reports api.ErrNotSupported.
func SetNoDelay(int) error { return api.ErrNotSupported }

// Sockname reports api.ErrNotSupported.
func Sockname(int) (netip.AddrPort, error) { return netip.AddrPort{}, api.ErrNotSupported }

// Close is a no-op.
func Close(int) {}
