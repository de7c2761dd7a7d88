//go:build !linux

// File: affinity/affinity_stub.go
// License: Apache-2.0

package affinity

import "github.com/momentics/hioload-net/api"

func setAffinity(int) error { return api.ErrNotSupported }

// Current is not available on this platform.
func Current() ([]int, error) { return nil, api.ErrNotSupported }
