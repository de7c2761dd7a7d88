// File: pool/bytepool.go
// License: Apache-2.0
//
// Size-classed []byte pool backing overlapped Op buffers.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
)

const (
	minClassShift   = 9  // 512 B
	maxClassShift   = 20 // 1 MiB
	defaultPerClass = 256
)

// BytePool keeps free buffers per power-of-two size class in bounded
// channels. Buffers larger than the biggest class bypass the pool.
type BytePool struct {
	classes [maxClassShift - minClassShift + 1]chan []byte

	allocs   atomic.Uint64
	reuses   atomic.Uint64
	releases atomic.Uint64
}

var _ api.BytePool = (*BytePool)(nil)

// NewBytePool creates a pool retaining up to perClass buffers per size class.
func NewBytePool(perClass int) *BytePool {
	if perClass <= 0 {
		perClass = defaultPerClass
	}
	p := &BytePool{}
	for i := range p.classes {
		p.classes[i] = make(chan []byte, perClass)
	}
	return p
}

// classOf returns the class index able to hold n bytes, or -1.
func classOf(n int) int {
	for shift := minClassShift; shift <= maxClassShift; shift++ {
		if n <= 1<<shift {
			return shift - minClassShift
		}
	}
	return -1
}

// Acquire returns a zeroed-length-n slice.
func (p *BytePool) Acquire(n int) []byte {
	idx := classOf(n)
	if idx < 0 {
		p.allocs.Add(1)
		return make([]byte, n)
	}
	select {
	case buf := <-p.classes[idx]:
		p.reuses.Add(1)
		buf = buf[:n]
		clear(buf)
		return buf
	default:
		p.allocs.Add(1)
		return make([]byte, n, 1<<(idx+minClassShift))
	}
}

// Release returns buf to its class; buffers of foreign capacity are dropped.
func (p *BytePool) Release(buf []byte) {
	c := cap(buf)
	idx := classOf(c)
	if idx < 0 || c != 1<<(idx+minClassShift) {
		return
	}
	select {
	case p.classes[idx] <- buf[:0]:
		p.releases.Add(1)
	default:
	}
}

// Stats reports allocation counters.
type Stats struct {
	Allocs   uint64
	Reuses   uint64
	Releases uint64
}

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		Allocs:   p.allocs.Load(),
		Reuses:   p.reuses.Load(),
		Releases: p.releases.Load(),
	}
}
