// File: reactor/reactor.go
// License: Apache-2.0
//
// Platform-neutral completion driver interface.

package reactor

import (
	"errors"
	"net/netip"
	"time"
)

// ErrCanceled is carried by the completion of an Op retired through Cancel.
var ErrCanceled = errors.New("reactor: operation canceled")

// ErrNotAssociated is returned by Start for an fd that was never associated.
var ErrNotAssociated = errors.New("reactor: descriptor not associated")

// OpKind is the OS-level operation an Op performs.
type OpKind uint8

const (
	OpAccept OpKind = iota + 1
	OpRecv
	OpSend
	OpRecvFrom
	OpSendTo
)

func (k OpKind) String() string {
	switch k {
	case OpAccept:
		return "accept"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	case OpRecvFrom:
		return "recvfrom"
	case OpSendTo:
		return "sendto"
	default:
		return "unknown"
	}
}

// isRead reports whether the Op waits for readability.
func (k OpKind) isRead() bool {
	return k == OpAccept || k == OpRecv || k == OpRecvFrom
}

// Op is one overlapped request. Between Start and the matching Completion the
// driver owns Buf[Off:]; the caller must not touch it.
type Op struct {
	Kind OpKind
	FD   int
	Buf  []byte
	Off  int

	// To is the destination of OpSendTo.
	To netip.AddrPort

	// Slot is free for the caller; the engine stores the pool index here.
	Slot int

	// Set by the driver for OpAccept and OpRecvFrom.
	Accepted int
	Local    netip.AddrPort
	Peer     netip.AddrPort

	queued bool
}

// Queued reports whether the driver still holds the Op waiting for readiness.
func (op *Op) Queued() bool { return op.queued }

// Completion reports the outcome of one started Op.
type Completion struct {
	Op  *Op
	N   int
	Err error
}

// OutcomeKind tags what WaitOne observed.
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	Woken
	Expired
)

// Outcome is the result of one WaitOne call.
type Outcome struct {
	Kind OutcomeKind
	Completion
}

// Driver is the completion primitive.
type Driver interface {
	// Associate registers fd with the completion primitive.
	Associate(fd int) error

	// Dissociate unregisters fd and forgets Ops still queued on it.
	Dissociate(fd int) error

	// Start submits op. Every successfully started Op yields exactly one
	// Completion unless its fd is dissociated first.
	Start(op *Op) error

	// Cancel asks for op to be retired early. The confirmation arrives as a
	// Completion carrying ErrCanceled, or as the real result when the Op had
	// already finished.
	Cancel(op *Op)

	// WaitOne blocks for at most timeout (negative blocks forever) and
	// returns a single outcome.
	WaitOne(timeout time.Duration) (Outcome, error)

	// Wake makes a blocked or upcoming WaitOne return Woken. Safe from any goroutine.
	Wake() error

	// Close releases the primitive.
	Close() error
}

// Factory creates Drivers.
type Factory func() (Driver, error)
