// File: api/types.go
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

// ConnID identifies a connection slot. Server slots are 1-based and stable for
// the lifetime of the engine; 0 names the client/UDP socket.
type ConnID uint32

// NoConn is the id used for "not a server connection".
const NoConn ConnID = 0

// ClientConn is the id of the sole client-mode connection.
const ClientConn ConnID = 1

// Kind selects what an engine does after Launch.
type Kind int

const (
	KindTCPServer Kind = iota
	KindTCPClient
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindTCPServer:
		return "tcp-server"
	case KindTCPClient:
		return "tcp-client"
	case KindUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// OpKind is the logical kind of an operation or Command.
type OpKind int

const (
	OpNone OpKind = iota
	OpConnect
	OpDisconnect
	OpSend
	OpRecv
)

func (k OpKind) String() string {
	switch k {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	default:
		return "none"
	}
}

// EventKind tags an outbound Event.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventRecv
	EventSend
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventRecv:
		return "recv"
	case EventSend:
		return "send"
	default:
		return "unknown"
	}
}

// ConnState enumerates the lifecycle of a pool slot.
type ConnState int

const (
	StateIdle ConnState = iota
	StateAccepting
	StateConnected
	StateShuttingDown
)

func (s ConnState) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "idle"
	}
}
