// Package metrics exports Prometheus counters for the events of a
// ProtocolWrapper or a Client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/protocol"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "pusher").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// lifecycleEvents are counted under lifecycle_events_total.
var lifecycleEvents = []string{"initialized", "connecting", "open", "connected", "closed"}

var recoveryIntents = []protocol.Action{
	protocol.ActionBackoff,
	protocol.ActionRefused,
	protocol.ActionRetry,
	protocol.ActionSSLOnly,
}

// Collector counts protocol events.
type Collector struct {
	lifecycle *prometheus.CounterVec
	errors    *prometheus.CounterVec
	intents   *prometheus.CounterVec
	messages  prometheus.Counter
	pings     *prometheus.CounterVec
}

// New registers the collector's metrics. Registering twice on the same
// registry panics, as with promauto.
func New(opts ...Option) *Collector {
	cfg := Config{
		Namespace: "pusher",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		lifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "lifecycle_events_total",
			Help:        "Connection lifecycle events by name",
			ConstLabels: cfg.ConstLabels,
		}, []string{"event"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "errors_total",
			Help:        "Error events by type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "recovery_intents_total",
			Help:        "Recovery intents derived from close codes",
			ConstLabels: cfg.ConstLabels,
		}, []string{"intent"}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_total",
			Help:        "Application messages received",
			ConstLabels: cfg.ConstLabels,
		}),
		pings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "pings_total",
			Help:        "Keepalive events by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
	}
}

// Observe binds the collector to b's events.
func (c *Collector) Observe(b events.Binder) {
	for _, event := range lifecycleEvents {
		counter := c.lifecycle.WithLabelValues(event)
		b.Bind(event, func(interface{}) { counter.Inc() })
	}
	for _, intent := range recoveryIntents {
		counter := c.intents.WithLabelValues(string(intent))
		b.Bind(string(intent), func(interface{}) { counter.Inc() })
	}
	for _, kind := range []string{"ping", "pong", "ping_request"} {
		counter := c.pings.WithLabelValues(kind)
		b.Bind(kind, func(interface{}) { counter.Inc() })
	}
	b.Bind("message", func(interface{}) { c.messages.Inc() })
	b.Bind("error", func(data interface{}) {
		c.errors.WithLabelValues(errorType(data)).Inc()
	})
}

func errorType(data interface{}) string {
	if ee, ok := data.(*protocol.ErrorEvent); ok {
		return string(ee.Type)
	}
	return "other"
}
