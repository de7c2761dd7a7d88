// File: engine/options.go
// License: Apache-2.0

package engine

import (
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/reactor"
)

const (
	defaultQueueSize = 1024
	defaultPoolDepth = 64
)

// Option customizes engine construction.
type Option func(*options)

type options struct {
	logger       api.Logger
	metrics      *control.Metrics
	factory      reactor.Factory
	queueSize    int
	pollInterval time.Duration
	pool         api.BytePool
	cpu          int
}

func defaultOptions() options {
	return options{
		logger:       api.DiscardLogger,
		factory:      reactor.NewDriver,
		queueSize:    defaultQueueSize,
		pollInterval: -1,
		cpu:          -1,
	}
}

// WithLogger sets the logger; nil keeps the discarding default.
func WithLogger(logger api.Logger) Option {
	return func(o *options) {
		o.logger = api.ValidLoggerOrDefault(logger)
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithDriverFactory replaces the platform completion driver.
func WithDriverFactory(f reactor.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithCommandQueueSize bounds the submission queue; Post fails with a
// Resource error once it is full.
func WithCommandQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithPollInterval caps how long a single LoopTick may block. Negative
// blocks until a completion or wake-up arrives.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithBufferPool sets the pool backing recv buffers.
func WithBufferPool(p api.BytePool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithCPU makes Run pin the reactor goroutine's OS thread to cpu.
func WithCPU(cpu int) Option {
	return func(o *options) {
		o.cpu = cpu
	}
}

func (o *options) fill() {
	if o.metrics == nil {
		o.metrics, _ = control.NewMetrics()
	}
	if o.pool == nil {
		o.pool = pool.NewBytePool(defaultPoolDepth)
	}
}
