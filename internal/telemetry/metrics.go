// Package telemetry provides observability for the monitoring daemon.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the monitoring daemon. All
// series live in a private registry so tests never collide.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal      *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	tokensTotal      *prometheus.CounterVec
	sessionMessages  prometheus.Gauge
	sessionTokens    prometheus.Gauge
	contextPercent   prometheus.Gauge
	prunesTotal      *prometheus.CounterVec
	messagesPruned   prometheus.Counter
	escalationsTotal *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
}

var cycleBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewMetrics creates a Metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_cycles_total",
			Help: "Monitoring cycles by outcome.",
		}, []string{"status"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_cycle_duration_seconds",
			Help:    "Wall time of a full monitoring cycle.",
			Buckets: cycleBuckets,
		}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_llm_tokens_total",
			Help: "Tokens exchanged with the model.",
		}, []string{"direction"}),
		sessionMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_session_messages",
			Help: "Messages currently held in the session.",
		}),
		sessionTokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_session_estimated_tokens",
			Help: "Estimated tokens of the current conversation.",
		}),
		contextPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_session_context_percent",
			Help: "Estimated share of the context budget in use.",
		}),
		prunesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_prunes_total",
			Help: "Prune passes by strategy.",
		}, []string{"strategy"}),
		messagesPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_messages_pruned_total",
			Help: "Messages removed by pruning.",
		}),
		escalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_escalations_total",
			Help: "Fired escalation rules.",
		}, []string{"rule"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_store_errors_total",
			Help: "Session store failures by operation.",
		}, []string{"op"}),
	}
}

// RecordCycle records a completed monitoring cycle.
func (m *Metrics) RecordCycle(status string, duration time.Duration, inputTokens, outputTokens int) {
	m.cyclesTotal.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordSession updates the session gauges after a cycle.
func (m *Metrics) RecordSession(messages, estimatedTokens, contextPercent int) {
	m.sessionMessages.Set(float64(messages))
	m.sessionTokens.Set(float64(estimatedTokens))
	m.contextPercent.Set(float64(contextPercent))
}

// RecordPrune records one prune pass and the messages it removed.
func (m *Metrics) RecordPrune(strategy string, removed int) {
	m.prunesTotal.WithLabelValues(strategy).Inc()
	m.messagesPruned.Add(float64(removed))
}

// RecordEscalation records a fired rule.
func (m *Metrics) RecordEscalation(rule string) {
	m.escalationsTotal.WithLabelValues(rule).Inc()
}

// RecordStoreError records a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
