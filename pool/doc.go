// Package pool
// License: Apache-2.0
//
// Buffer pooling for the engine. A buffer handed to an overlapped Op is only
// released back here after the Op has retired; buffers abandoned by a forced
// reclaim are left to the garbage collector instead.
package pool
