// License: Apache-2.0

// Package reactor provides the completion primitive the engine is built on.
//
// A Driver accepts overlapped Ops (accept, recv, send, recvfrom, sendto),
// returns exactly one Completion per started Op through WaitOne, and can be
// woken from any goroutine. Everything except Wake must be called from the
// goroutine that owns the Driver. On Linux the completion model is emulated on
// top of edge-triggered epoll with an eventfd for wake-ups; other platforms
// get a stub that reports api.ErrNotSupported.
package reactor
