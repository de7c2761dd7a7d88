// Package resolver turns host and port strings into engine Addresses.
//
// Resolution blocks the calling goroutine and must never run on the reactor
// goroutine. Every call is bounded by a timeout; when it expires the lookup
// is cancelled through its context and the call fails with a TimedOut error.
package resolver
