// File: adapters/handler.go
// License: Apache-2.0

package adapters

import (
	"github.com/momentics/hioload-net/api"
)

// Handlers dispatches events to per-kind callbacks; nil callbacks are skipped.
type Handlers struct {
	OnConnect    func(api.Event)
	OnDisconnect func(api.Event)
	OnRecv       func(api.Event)
	OnSend       func(api.Event)
}

// Deliver implements api.Consumer.
func (h Handlers) Deliver(id api.ConnID, kind api.EventKind, ev api.Event) {
	var fn func(api.Event)
	switch kind {
	case api.EventConnect:
		fn = h.OnConnect
	case api.EventDisconnect:
		fn = h.OnDisconnect
	case api.EventRecv:
		fn = h.OnRecv
	case api.EventSend:
		fn = h.OnSend
	}
	if fn != nil {
		fn(ev)
	}
}

// Middleware decorates a Consumer.
type Middleware func(api.Consumer) api.Consumer

// Chain applies middleware so that the first one sees events first.
func Chain(c api.Consumer, mw ...Middleware) api.Consumer {
	for i := len(mw) - 1; i >= 0; i-- {
		c = mw[i](c)
	}
	return c
}

// Logging logs every event at debug level, and failed ones at warn level.
func Logging(logger api.Logger) Middleware {
	logger = api.ValidLoggerOrDefault(logger)
	return func(next api.Consumer) api.Consumer {
		return api.ConsumerFunc(func(id api.ConnID, kind api.EventKind, ev api.Event) {
			if ev.Err != nil {
				logger.Warnf("event %s on %d: %s", kind, id, ev.Err)
			} else {
				logger.Debugf("event %s on %d: %d bytes", kind, id, len(ev.Payload))
			}
			next.Deliver(id, kind, ev)
		})
	}
}
