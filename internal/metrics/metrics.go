// Package metrics exposes Prometheus collectors for the file cache.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchcache"

// Registry groups the collectors used by the cache, binder, throttler and event bus.
type Registry struct {
	registry    *prometheus.Registry
	reloads     *prometheus.CounterVec
	coalesced   *prometheus.CounterVec
	pending     prometheus.Gauge
	bindings    *prometheus.CounterVec
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

// Default is the process-wide registry served on /metrics.
var Default = NewRegistry(nil)

// NewRegistry creates collectors registered on registry, or on a fresh registry when nil.
func NewRegistry(registry *prometheus.Registry) *Registry {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	r := &Registry{
		registry: registry,
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "File reloads by entry name and result.",
		}, []string{"name", "result"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reload_requests_coalesced_total",
			Help:      "Reload requests absorbed by an in-flight reload.",
		}, []string{"name"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reloads_pending",
			Help:      "Reload cycles currently waiting or running.",
		}),
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binding_transitions_total",
			Help:      "Directory binding transitions by resulting state.",
		}, []string{"state"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on an event bus.",
		}, []string{"bus", "type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, []string{"bus", "type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Active event bus subscribers.",
		}, []string{"bus"}),
	}
	registry.MustRegister(r.reloads, r.coalesced, r.pending, r.bindings, r.published, r.dropped, r.subscribers)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) IncReload(name, result string) {
	if r == nil {
		return
	}
	r.reloads.WithLabelValues(labelOrUnknown(name), labelOrUnknown(result)).Inc()
}

func (r *Registry) IncCoalesced(name string) {
	if r == nil {
		return
	}
	r.coalesced.WithLabelValues(labelOrUnknown(name)).Inc()
}

func (r *Registry) AddPending(delta float64) {
	if r == nil {
		return
	}
	r.pending.Add(delta)
}

func (r *Registry) IncBinding(state string) {
	if r == nil {
		return
	}
	r.bindings.WithLabelValues(labelOrUnknown(state)).Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(labelOrUnknown(bus), labelOrUnknown(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(labelOrUnknown(bus), labelOrUnknown(eventType)).Inc()
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.subscribers.WithLabelValues(labelOrUnknown(bus)).Set(float64(count))
}

func labelOrUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
