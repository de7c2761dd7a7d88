// File: adapters/adapters_test.go
// License: Apache-2.0

package adapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/momentics/hioload-net/adapters"
	"github.com/momentics/hioload-net/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersDispatchByKind(t *testing.T) {
	var got []string
	h := adapters.Handlers{
		OnConnect: func(ev api.Event) { got = append(got, "connect") },
		OnRecv:    func(ev api.Event) { got = append(got, "recv:"+string(ev.Payload)) },
	}
	h.Deliver(1, api.EventConnect, api.Event{Kind: api.EventConnect})
	h.Deliver(1, api.EventRecv, api.Event{Kind: api.EventRecv, Payload: []byte("x")})
	h.Deliver(1, api.EventSend, api.Event{Kind: api.EventSend})

	if diff := cmp.Diff([]string{"connect", "recv:x"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) adapters.Middleware {
		return func(next api.Consumer) api.Consumer {
			return api.ConsumerFunc(func(id api.ConnID, kind api.EventKind, ev api.Event) {
				order = append(order, name)
				next.Deliver(id, kind, ev)
			})
		}
	}
	base := api.ConsumerFunc(func(api.ConnID, api.EventKind, api.Event) { order = append(order, "base") })
	c := adapters.Chain(base, tag("outer"), tag("inner"), adapters.Logging(nil))
	c.Deliver(1, api.EventRecv, api.Event{})

	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestMailboxPreservesOrderAcrossGoroutines(t *testing.T) {
	m := adapters.NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(1)
	var got []api.ConnID
	go func() {
		defer wg.Done()
		for len(got) < n {
			ev, err := m.Next(ctx)
			if err != nil {
				return
			}
			got = append(got, ev.ConnID)
		}
	}()
	for i := 1; i <= n; i++ {
		m.Deliver(api.ConnID(i), api.EventRecv, api.Event{ConnID: api.ConnID(i)})
	}
	wg.Wait()

	require.Len(t, got, n)
	for i, id := range got {
		assert.Equal(t, api.ConnID(i+1), id)
	}
}

func TestMailboxNextHonoursContext(t *testing.T) {
	m := adapters.NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m.Deliver(0, api.EventSend, api.Event{Kind: api.EventSend})
	assert.Equal(t, 1, m.Len())
	ev, ok := m.TryNext()
	assert.True(t, ok)
	assert.Equal(t, api.EventSend, ev.Kind)
}
