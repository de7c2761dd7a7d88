// File: engine/command.go
// License: Apache-2.0

package engine

import (
	"net/netip"

	"github.com/momentics/hioload-net/api"
)

// command is moved once into the submission queue and consumed once by the
// reactor goroutine.
type command struct {
	id      api.ConnID
	op      api.OpKind
	payload []byte
	to      api.Address
	want    int

	// adopt carries a socket connected on the caller's goroutine.
	adopt *adoption
}

type adoption struct {
	fd    int
	local netip.AddrPort
	peer  api.Address
}

// request is one queued recv or send on a connection.
type request struct {
	payload []byte
	want    int
	to      api.Address
}
