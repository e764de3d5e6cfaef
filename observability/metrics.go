package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics records RPC-visible protocol operations segmented by
// module (handshake, treasury), method, and outcome.
type OperationMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	operationMetricsOnce sync.Once
	operationRegistry    *OperationMetrics
)

// Operations returns the lazily-initialised operation metrics registry.
func Operations() *OperationMetrics {
	operationMetricsOnce.Do(func() {
		operationRegistry = &OperationMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sour",
				Subsystem: "ops",
				Name:      "requests_total",
				Help:      "Total protocol operations segmented by module, method, and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sour",
				Subsystem: "ops",
				Name:      "errors_total",
				Help:      "Total failed protocol operations segmented by module and method.",
			}, []string{"module", "method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "sour",
				Subsystem: "ops",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for protocol operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(operationRegistry.requests, operationRegistry.errors, operationRegistry.latency)
	})
	return operationRegistry
}

// Observe records one operation outcome with its handler latency.
func (m *OperationMetrics) Observe(module, method string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, method).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(time.Since(started).Seconds())
}
