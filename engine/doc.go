// Package engine is the single-reactor network engine.
//
// One goroutine owns every connection, buffer and pending queue and drives
// the engine by calling LoopTick (or Run). Any other goroutine talks to it
// through Post, PostRecv, Connect and Cancel, which only enqueue a command on
// a lock-free queue and wake the reactor.
//
// A server engine keeps a fixed pool of Config.Capacity connection slots with
// stable 1-based ids; every idle slot has an accept armed. A client engine
// has a single slot with id 1. A UDP engine has no connections at all: it
// keeps a small ring of pre-armed receives plus one in-flight send.
//
// Each connection has at most one recv and one send in flight. Further
// requests wait in per-direction FIFO queues and are started in order.
package engine
