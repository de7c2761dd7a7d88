// File: api/events.go
// License: Apache-2.0
//
// Outbound events produced by the engine and the consumer boundary.

package api

import (
	"net/http"

	"github.com/google/uuid"
)

// Event is the tagged union produced once per completion. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind   EventKind
	ConnID ConnID

	// Session distinguishes successive connections that reuse one slot.
	Session uuid.UUID

	// Local and Peer are set on connect; Peer is also set on UDP recv.
	Local Address
	Peer  Address

	// Payload holds received bytes (recv) or the bytes that were sent (send).
	Payload []byte

	// Request or Response is set when HTTP framing completed a message.
	Request  *http.Request
	Response *http.Response

	// Err is nil on success.
	Err error
}

// Consumer receives events on the reactor goroutine. Deliver must not block
// and must not call LoopTick; submitting new work through Post is allowed.
type Consumer interface {
	Deliver(id ConnID, kind EventKind, ev Event)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(id ConnID, kind EventKind, ev Event)

// Deliver implements Consumer.
func (f ConsumerFunc) Deliver(id ConnID, kind EventKind, ev Event) {
	f(id, kind, ev)
}
