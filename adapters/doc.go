// Package adapters glues application code to the engine's event boundary.
//
// The engine calls api.Consumer.Deliver on its reactor goroutine and expects
// it to return immediately. Handlers dispatches by event kind, Chain wraps a
// consumer in middleware, and Mailbox hands events to another goroutine
// without ever blocking the reactor.
package adapters
