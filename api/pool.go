// File: api/pool.go
// License: Apache-2.0
//
// Pooling API for Op buffers.

package api

// BytePool provides reusable []byte buffers for overlapped operations.
type BytePool interface {
	// Acquire returns a slice of exactly n bytes.
	Acquire(n int) []byte

	// Release returns a buffer to the pool. Callers must not touch buf afterwards.
	Release(buf []byte)
}
