// License: Apache-2.0

// Package socket wraps raw OS sockets for the engine: one Socket owns exactly
// one descriptor, applies the engine's default options and closes it at most
// once.
package socket
