// File: control/metrics.go
// License: Apache-2.0
//
// Prometheus instrumentation for the engine.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig configures NewMetrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hionet").
	Namespace string

	// Subsystem is the metrics subsystem (default: "engine").
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. Nil leaves them unregistered.
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "hionet",
		Subsystem: "engine",
	}
}

// Metrics groups the engine collectors. The reactor goroutine is the only
// writer; scraping happens concurrently through the registry.
type Metrics struct {
	Accepted        prometheus.Counter
	AcceptFailures  prometheus.Counter
	Active          prometheus.Gauge
	Events          *prometheus.CounterVec
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	Commands        *prometheus.CounterVec
	PendingOps      *prometheus.GaugeVec
	ForcedReclaims  prometheus.Counter
	ResolveDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them when a registry is set.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	cfg := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "accepted_total",
			Help:        "Connections accepted by the listener.",
			ConstLabels: cfg.ConstLabels,
		}),
		AcceptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "accept_failures_total",
			Help:        "Accept completions that reported an error.",
			ConstLabels: cfg.ConstLabels,
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connections_active",
			Help:        "Connections currently connected or shutting down.",
			ConstLabels: cfg.ConstLabels,
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "events_total",
			Help:        "Events delivered to the consumer, by kind and outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "outcome"}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "received_bytes_total",
			Help:        "Bytes read from sockets.",
			ConstLabels: cfg.ConstLabels,
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "sent_bytes_total",
			Help:        "Bytes written to sockets.",
			ConstLabels: cfg.ConstLabels,
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "commands_total",
			Help:        "Commands drained from the submission queue, by op.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"op"}),
		PendingOps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "pending_ops",
			Help:        "Requests waiting behind an in-flight op, by direction.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),
		ForcedReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "forced_reclaims_total",
			Help:        "Connections reclaimed after cancellation was not confirmed in time.",
			ConstLabels: cfg.ConstLabels,
		}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "resolver",
			Name:        "duration_seconds",
			Help:        "Name resolution latency.",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	if cfg.Registry != nil {
		for _, c := range m.collectors() {
			if err := cfg.Registry.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Accepted,
		m.AcceptFailures,
		m.Active,
		m.Events,
		m.BytesIn,
		m.BytesOut,
		m.Commands,
		m.PendingOps,
		m.ForcedReclaims,
		m.ResolveDuration,
	}
}

// Event records one delivered event.
func (m *Metrics) Event(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Events.WithLabelValues(kind, outcome).Inc()
}
