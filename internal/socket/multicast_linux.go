//go:build linux

// File: internal/socket/multicast_linux.go
// License: Apache-2.0
//
// Multicast group membership on a datagram socket via golang.org/x/net.

package socket

import (
	"net"
	"net/netip"
	"os"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// JoinGroup joins group on ifi (nil picks the system default interface).
func (s *Socket) JoinGroup(group netip.Addr, ifi *net.Interface) error {
	return s.membership(group, ifi, true)
}

// LeaveGroup leaves group on ifi.
func (s *Socket) LeaveGroup(group netip.Addr, ifi *net.Interface) error {
	return s.membership(group, ifi, false)
}

// SetMulticastLoopback controls whether sent datagrams loop back locally.
func (s *Socket) SetMulticastLoopback(on bool) error {
	return s.withPacketConn(func(pc net.PacketConn) error {
		if s.family == api.FamilyIPv6 {
			return ipv6.NewPacketConn(pc).SetMulticastLoopback(on)
		}
		return ipv4.NewPacketConn(pc).SetMulticastLoopback(on)
	})
}

func (s *Socket) membership(group netip.Addr, ifi *net.Interface, join bool) error {
	if !group.IsMulticast() {
		return api.NewError(api.CodeInvalidArgument, "not a multicast group").WithContext("group", group.String())
	}
	if s.family == api.FamilyIPv4 && !group.Unmap().Is4() {
		return api.NewError(api.CodeInvalidArgument, "v6 group on a v4 socket").WithContext("group", group.String())
	}
	if s.family == api.FamilyIPv4 {
		group = group.Unmap()
	}
	gaddr := &net.UDPAddr{IP: net.IP(group.AsSlice())}
	return s.withPacketConn(func(pc net.PacketConn) error {
		if s.family == api.FamilyIPv6 {
			p := ipv6.NewPacketConn(pc)
			if join {
				return p.JoinGroup(ifi, gaddr)
			}
			return p.LeaveGroup(ifi, gaddr)
		}
		p := ipv4.NewPacketConn(pc)
		if join {
			return p.JoinGroup(ifi, gaddr)
		}
		return p.LeaveGroup(ifi, gaddr)
	})
}

// withPacketConn exposes the socket as a net.PacketConn backed by a duplicate
// descriptor. Options set through it apply to the shared socket.
func (s *Socket) withPacketConn(fn func(net.PacketConn) error) error {
	if s.typ != Datagram {
		return api.NewError(api.CodeInvalidArgument, "multicast on a stream socket")
	}
	if !s.Valid() {
		return api.ErrNotConnected
	}
	dup, err := unix.Dup(s.fd)
	if err != nil {
		return api.Wrap(api.CodeResource, "dup", err)
	}
	f := os.NewFile(uintptr(dup), "udp")
	pc, err := net.FilePacketConn(f)
	_ = f.Close()
	if err != nil {
		return api.OSError("file packet conn", err)
	}
	defer pc.Close()
	if err := fn(pc); err != nil {
		return api.OSError("multicast option", err)
	}
	return nil
}
