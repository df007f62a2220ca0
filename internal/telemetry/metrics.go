package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	runsTotal      *prometheus.CounterVec
	domainDuration *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
}

// NewMetrics registers the collectors plus Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kansa",
			Name:      "runs_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"kind", "status"}),
		domainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kansa",
			Name:      "domain_duration_seconds",
			Help:      "Time spent collecting one domain unit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind", "domain", "status"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kansa",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.runsTotal,
		m.domainDuration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RunFinished(kind, status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) DomainFinished(kind, domain, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.domainDuration.WithLabelValues(kind, domain, status).Observe(d.Seconds())
}

func (m *Metrics) RunStarted(kind string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Inc()
}

func (m *Metrics) RunStopped(kind string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Dec()
}

// Registry exposes the underlying registry (tests, custom collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
