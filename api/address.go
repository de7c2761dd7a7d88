// File: api/address.go
// License: Apache-2.0
//
// Address is an owned, fixed-size sockaddr image plus an optional display name.

package api

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/netip"
	"strconv"
)

// AddrFamily is the address family of an Address or a Config.
type AddrFamily uint16

const (
	FamilyUnspec AddrFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f AddrFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "v4"
	case FamilyIPv6:
		return "v6"
	default:
		return "unspec"
	}
}

// Size returns the fixed sockaddr image length for the family.
func (f AddrFamily) Size() int {
	switch f {
	case FamilyIPv4:
		return sockaddrInLen
	case FamilyIPv6:
		return sockaddrIn6Len
	default:
		return 0
	}
}

// Image layouts mirror sockaddr_in / sockaddr_in6 with every field in network
// byte order:
//
//	v4: family(2) port(2) addr(4) zero(8)
//	v6: family(2) port(2) flowinfo(4) addr(16) scope(4)
const (
	sockaddrInLen  = 16
	sockaddrIn6Len = 28
)

// Address is a value type; copies share nothing once Clone is used and the
// zero value is invalid.
type Address struct {
	family AddrFamily
	raw    []byte
	name   string
}

// NewAddress builds an Address from an ip:port pair.
func NewAddress(ap netip.AddrPort) Address {
	ip := ap.Addr()
	if !ip.IsValid() {
		return Address{}
	}
	if ip.Is4() {
		raw := make([]byte, sockaddrInLen)
		binary.BigEndian.PutUint16(raw[0:2], uint16(FamilyIPv4))
		binary.BigEndian.PutUint16(raw[2:4], ap.Port())
		a4 := ip.As4()
		copy(raw[4:8], a4[:])
		return Address{family: FamilyIPv4, raw: raw}
	}
	raw := make([]byte, sockaddrIn6Len)
	binary.BigEndian.PutUint16(raw[0:2], uint16(FamilyIPv6))
	binary.BigEndian.PutUint16(raw[2:4], ap.Port())
	a16 := ip.As16()
	copy(raw[8:24], a16[:])
	binary.BigEndian.PutUint32(raw[24:28], zoneToScope(ip.Zone()))
	return Address{family: FamilyIPv6, raw: raw}
}

// ParseAddress parses "host:port" where host is a literal IP.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, Wrap(CodeInvalidArgument, "parse address", err)
	}
	return NewAddress(ap), nil
}

// AddressFromBytes validates a raw image produced by Bytes.
func AddressFromBytes(raw []byte) (Address, error) {
	if len(raw) < 2 {
		return Address{}, NewError(CodeInvalidArgument, "address image too short")
	}
	fam := AddrFamily(binary.BigEndian.Uint16(raw[0:2]))
	if fam.Size() == 0 || len(raw) != fam.Size() {
		return Address{}, NewError(CodeInvalidArgument, "address image size mismatch").
			WithContext("family", fam).
			WithContext("len", len(raw))
	}
	return Address{family: fam, raw: bytes.Clone(raw)}, nil
}

// IsValid reports whether the Address carries an image.
func (a Address) IsValid() bool {
	return a.family != FamilyUnspec && len(a.raw) == a.family.Size()
}

// Family returns the address family.
func (a Address) Family() AddrFamily { return a.family }

// Name returns the resolved display name, if any.
func (a Address) Name() string { return a.name }

// WithName returns a copy carrying name as display name.
func (a Address) WithName(name string) Address {
	b := a.Clone()
	b.name = name
	return b
}

// Bytes returns a copy of the raw image.
func (a Address) Bytes() []byte { return bytes.Clone(a.raw) }

// Port returns the port.
func (a Address) Port() uint16 {
	if !a.IsValid() {
		return 0
	}
	return binary.BigEndian.Uint16(a.raw[2:4])
}

// AddrPort converts back to netip.
func (a Address) AddrPort() netip.AddrPort {
	switch {
	case !a.IsValid():
		return netip.AddrPort{}
	case a.family == FamilyIPv4:
		ip := netip.AddrFrom4([4]byte(a.raw[4:8]))
		return netip.AddrPortFrom(ip, a.Port())
	default:
		ip := netip.AddrFrom16([16]byte(a.raw[8:24]))
		if scope := binary.BigEndian.Uint32(a.raw[24:28]); scope != 0 {
			ip = ip.WithZone(strconv.FormatUint(uint64(scope), 10))
		}
		return netip.AddrPortFrom(ip, a.Port())
	}
}

// Equal compares family and image; display names are ignored.
func (a Address) Equal(b Address) bool {
	return a.family == b.family && bytes.Equal(a.raw, b.raw)
}

// Clone returns a deep copy.
func (a Address) Clone() Address {
	return Address{family: a.family, raw: bytes.Clone(a.raw), name: a.name}
}

// String renders the canonical "ip:port" / "[ip6]:port" text form.
func (a Address) String() string {
	if !a.IsValid() {
		return "<invalid>"
	}
	return a.AddrPort().String()
}

func zoneToScope(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	return 0
}
