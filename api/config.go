// File: api/config.go
// License: Apache-2.0
//
// Immutable-after-launch engine configuration.

package api

import (
	"net/netip"
	"time"
)

// Config is copied into the engine at Launch and never mutated afterwards.
type Config struct {
	// Family selects v4 or v6 sockets.
	Family AddrFamily

	// Port is the bound port (server, UDP). 0 picks an ephemeral port.
	Port uint16

	// BindAddress overrides the wildcard bind address when valid.
	BindAddress netip.Addr

	// Backlog is the listen queue depth.
	Backlog int

	// Capacity is the fixed connection-pool size for server mode.
	Capacity int

	// BufferSize is the per-Op buffer size.
	BufferSize int

	// Timeout bounds connect waits and cancellation confirmation.
	Timeout time.Duration

	// IsHTTP enables HTTP message framing on the recv path.
	IsHTTP bool

	// MaxHeaderBytes and MaxBodyBytes limit HTTP framing. 0, or a value above
	// the built-in ceiling (1 MiB headers, 256 MiB bodies), uses the ceiling.
	MaxHeaderBytes int
	MaxBodyBytes   int

	// AutoRecv arms a recv on connect and re-arms it after every delivery.
	AutoRecv bool
}

// DefaultConfig returns a v4 config suitable for small servers.
func DefaultConfig() Config {
	return Config{
		Family:         FamilyIPv4,
		Port:           0,
		Backlog:        128,
		Capacity:       64,
		BufferSize:     4096,
		Timeout:        5 * time.Second,
		MaxHeaderBytes: 16 << 10,
		MaxBodyBytes:   1 << 20,
		AutoRecv:       true,
	}
}

// Validate checks that every required field is usable.
func (c Config) Validate() error {
	switch {
	case c.Family != FamilyIPv4 && c.Family != FamilyIPv6:
		return NewError(CodeInvalidArgument, "config: unknown address family").WithContext("family", c.Family)
	case c.Capacity <= 0:
		return NewError(CodeInvalidArgument, "config: capacity must be positive").WithContext("capacity", c.Capacity)
	case c.BufferSize <= 0:
		return NewError(CodeInvalidArgument, "config: buffer size must be positive").WithContext("buffer_size", c.BufferSize)
	case c.Timeout <= 0:
		return NewError(CodeInvalidArgument, "config: timeout must be positive").WithContext("timeout", c.Timeout)
	case c.Backlog < 0:
		return NewError(CodeInvalidArgument, "config: negative backlog").WithContext("backlog", c.Backlog)
	case c.MaxHeaderBytes < 0 || c.MaxBodyBytes < 0:
		return NewError(CodeInvalidArgument, "config: negative HTTP limit")
	case c.BindAddress.IsValid() && c.BindAddress.Is4() != (c.Family == FamilyIPv4):
		return NewError(CodeInvalidArgument, "config: bind address does not match family").
			WithContext("bind", c.BindAddress.String())
	}
	return nil
}
