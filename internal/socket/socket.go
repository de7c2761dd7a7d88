// File: internal/socket/socket.go
// License: Apache-2.0

package socket

import (
	"net/netip"

	"github.com/momentics/hioload-net/api"
)

// Type is the socket type.
type Type int

const (
	Stream Type = iota
	Datagram
)

func (t Type) String() string {
	if t == Datagram {
		return "datagram"
	}
	return "stream"
}

// Invalid is the sentinel descriptor of an empty Socket.
const Invalid = -1

// Wildcard returns the any-address for family with port.
func Wildcard(family api.AddrFamily, port uint16) netip.AddrPort {
	if family == api.FamilyIPv6 {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), port)
	}
	return netip.AddrPortFrom(netip.IPv4Unspecified(), port)
}

// Loopback returns the loopback address for family with port.
func Loopback(family api.AddrFamily, port uint16) netip.AddrPort {
	if family == api.FamilyIPv6 {
		return netip.AddrPortFrom(netip.IPv6Loopback(), port)
	}
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}
