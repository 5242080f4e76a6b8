// Package metrics holds the Prometheus instruments of the context engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "recall"

// Metrics groups all Prometheus instruments used by recall.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Evictions        prometheus.Counter
	MemoryEntries    *prometheus.CounterVec
	MemoryDropped    prometheus.Counter
	RetrievalMisses  *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	BudgetExhausted  prometheus.Counter
	GatewayRequests  *prometheus.CounterVec
	GatewayRetries   *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec
	SummaryFallbacks prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// New registers the instruments on reg under the given namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "History spans evicted from live buffers.",
		}),
		MemoryEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_entries_total",
			Help:      "Memory entry inserts by outcome.",
		}, []string{"outcome"}),
		MemoryDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_dropped_total",
			Help:      "Memory entries lost after the insert retry failed.",
		}),
		RetrievalMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_misses_total",
			Help:      "Memory queries that degraded to an empty result, by reason.",
		}, []string{"reason"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		BudgetExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_exhausted_total",
			Help:      "Agent loops terminated by the function call budget.",
		}),
		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Model gateway calls by role and outcome.",
		}, []string{"role", "outcome"}),
		GatewayRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Model gateway retries by role.",
		}, []string{"role"}),
		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_seconds",
			Help:      "Model gateway call latency by role.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"role"}),
		SummaryFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallbacks_total",
			Help:      "Summaries produced by truncation after the model failed.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a live history buffer.",
		}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide instruments registered on the default registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(Namespace, prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) ObserveInsert(outcome string) {
	if m == nil {
		return
	}
	m.MemoryEntries.WithLabelValues(outcome).Inc()
	if outcome == "dropped" {
		m.MemoryDropped.Inc()
	}
}

func (m *Metrics) ObserveRetrievalMiss(reason string) {
	if m == nil {
		return
	}
	m.RetrievalMisses.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ObserveBudgetExhausted() {
	if m == nil {
		return
	}
	m.BudgetExhausted.Inc()
}

// ObserveGateway records one finished gateway call.
func (m *Metrics) ObserveGateway(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(role, outcome).Inc()
	m.GatewayLatency.WithLabelValues(role).Observe(d.Seconds())
}

func (m *Metrics) ObserveRetry(role string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(role).Inc()
}

func (m *Metrics) ObserveSummaryFallback() {
	if m == nil {
		return
	}
	m.SummaryFallbacks.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
