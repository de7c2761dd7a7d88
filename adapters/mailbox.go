// File: adapters/mailbox.go
// License: Apache-2.0

package adapters

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-net/api"
)

// Mailbox is an unbounded Consumer. Deliver never blocks; readers drain it
// from any goroutine with Next or TryNext.
type Mailbox struct {
	mu     sync.Mutex
	events *queue.Queue // api.Event
	notify chan struct{}
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		events: queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Deliver implements api.Consumer.
func (m *Mailbox) Deliver(id api.ConnID, kind api.EventKind, ev api.Event) {
	m.mu.Lock()
	m.events.Add(ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest event without waiting.
func (m *Mailbox) TryNext() (api.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events.Length() == 0 {
		return api.Event{}, false
	}
	return m.events.Remove().(api.Event), true
}

// Next waits for the oldest event or for ctx to end.
func (m *Mailbox) Next(ctx context.Context) (api.Event, error) {
	for {
		if ev, ok := m.TryNext(); ok {
			return ev, nil
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return api.Event{}, ctx.Err()
		}
	}
}

// Len reports the number of queued events.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.Length()
}
