//go:build !linux

// File: reactor/reactor_stub.go
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-net/api"

// NewDriver reports api.ErrNotSupported on this platform.
func NewDriver() (Driver, error) {
	return nil, api.ErrNotSupported
}
