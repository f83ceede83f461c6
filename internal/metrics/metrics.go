// Package metrics provides the Prometheus metrics for batches, credentials and scrapes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all stockmeta metrics.
	MetricsNamespace = "stockmeta"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	ItemsProcessedTotal *prometheus.CounterVec
	CallDurationSeconds *prometheus.HistogramVec
	CallsInFlight       prometheus.Gauge
	RunsTotal           *prometheus.CounterVec
	CredentialOutcomes  *prometheus.CounterVec
	ScrapesTotal        *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.ItemsProcessedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "runner",
			Name:      "items_processed_total",
			Help:      "Total number of queue items that reached a terminal state",
		},
		[]string{"status", "kind"},
	)

	m.CallDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "generator",
			Name:      "call_duration_seconds",
			Help:      "Duration of generation calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"op"},
	)

	m.CallsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "runner",
			Name:      "calls_in_flight",
			Help:      "Number of generation calls currently in flight",
		},
	)

	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Total number of batch runs by how they ended",
		},
		[]string{"result"},
	)

	m.CredentialOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "credentials",
			Name:      "outcomes_total",
			Help:      "Generation call outcomes reported per credential pool",
		},
		[]string{"pool", "outcome"},
	)

	m.ScrapesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "trends",
			Name:      "scrapes_total",
			Help:      "Total number of trend scrapes by result",
		},
		[]string{"trigger", "result"},
	)

	return m
}

func (m *Metrics) ItemFinished(status, kind string) {
	if m == nil {
		return
	}
	m.ItemsProcessedTotal.WithLabelValues(status, kind).Inc()
}

func (m *Metrics) ObserveCall(op string, seconds float64) {
	if m == nil {
		return
	}
	m.CallDurationSeconds.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsInFlight.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.CallsInFlight.Dec()
}

func (m *Metrics) RunFinished(stopped bool) {
	if m == nil {
		return
	}
	result := "completed"
	if stopped {
		result = "stopped"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) CredentialOutcome(pool, outcome string) {
	if m == nil {
		return
	}
	m.CredentialOutcomes.WithLabelValues(pool, outcome).Inc()
}

func (m *Metrics) Scrape(trigger string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ScrapesTotal.WithLabelValues(trigger, result).Inc()
}
