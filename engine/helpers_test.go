// File: engine/helpers_test.go
// License: Apache-2.0

package engine

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/stretchr/testify/require"
)

// recorder collects events on the reactor goroutine.
type recorder struct {
	events []api.Event
}

func (r *recorder) Deliver(id api.ConnID, kind api.EventKind, ev api.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind api.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind api.EventKind) api.Event {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i]
		}
	}
	return api.Event{}
}

func (r *recorder) kinds() []api.EventKind {
	out := make([]api.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// tickUntil drives the engine on the test goroutine until cond holds.
func tickUntil(t *testing.T, e *Engine, r *recorder, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.NoError(t, e.LoopTick(r))
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; events so far: %v", r.kinds())
		}
	}
}

// tickUntilStopped drives the engine until LoopTick reports ErrStopped.
func tickUntilStopped(t *testing.T, e *Engine, r *recorder) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := e.LoopTick(r)
		if errors.Is(err, ErrStopped) {
			return
		}
		require.NoError(t, err)
		if time.Now().After(deadline) {
			t.Fatal("engine did not stop")
		}
	}
}

func loopbackConfig(capacity int) api.Config {
	cfg := api.DefaultConfig()
	cfg.Capacity = capacity
	cfg.BindAddress = netip.MustParseAddr("127.0.0.1")
	cfg.Timeout = time.Second
	return cfg
}
