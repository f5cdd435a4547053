package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the gateway.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	CacheHits         prometheus.Counter
	APICalls          prometheus.Counter
	TurnErrors        *prometheus.CounterVec
	TurnLatency       prometheus.Histogram
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics and registers gauges that
// read live values from the core services.
func InitMetrics(connManager *ConnectionManager, sessions *SessionStore, cache *ResponseCache, stats *Stats) *Metrics {
	metrics := &Metrics{
		MessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_messages_processed_total",
			Help: "Total number of inbound chat messages processed",
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_cache_hits_total",
			Help: "Total number of turns served from the response cache",
		}),

		APICalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_upstream_calls_total",
			Help: "Total number of upstream chat API calls",
		}),

		TurnErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_turn_errors_total",
			Help: "Total number of failed turns by error type",
		}, []string{"error_type"}),

		// Turn latency histogram, buckets sized for LLM responses.
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatgate_turn_duration_seconds",
			Help:    "Upstream turn latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatgate_websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
		func() float64 { return float64(connManager.Count()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatgate_sessions_current",
			Help: "Current number of live chat sessions",
		},
		func() float64 { return float64(sessions.Len()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatgate_response_cache_entries",
			Help: "Current number of response cache entries",
		},
		func() float64 { return float64(cache.Len()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatgate_upstream_requests_inflight",
			Help: "Upstream chat API calls currently in flight",
		},
		func() float64 { return float64(stats.Snapshot().ConcurrentRequests) },
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordTurnError records a failed turn.
func (m *Metrics) RecordTurnError(errorType string) {
	m.TurnErrors.WithLabelValues(errorType).Inc()
}
