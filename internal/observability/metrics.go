// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	QuotesReceived   *prometheus.CounterVec
	CompositeSources *prometheus.GaugeVec

	// Relay process metrics
	RelayRestarts    prometheus.Counter
	HeartbeatAge     prometheus.Gauge
	PriceUpdatesSeen prometheus.Counter

	// Submission metrics
	SubmissionsTotal     *prometheus.CounterVec
	SubmissionLatency    prometheus.Histogram
	ValidationRejections *prometheus.CounterVec
	CircuitBreakerOpen   prometheus.Gauge
	BlockhashRefreshes   prometheus.Counter

	// Health metrics
	LastSuccessfulSubmission prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "oracle_relay"
	}

	return &Metrics{
		// Feed metrics
		QuotesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "quotes_received_total",
			Help:      "Total number of quotes received by source",
		}, []string{"source"}),
		CompositeSources: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "composite_sources",
			Help:      "Number of fresh sources in the latest composite by asset",
		}, []string{"asset"}),

		// Relay process metrics
		RelayRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "restarts_total",
			Help:      "Total number of relay process restarts",
		}),
		HeartbeatAge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "heartbeat_age_seconds",
			Help:      "Seconds since the last relay heartbeat",
		}),
		PriceUpdatesSeen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "price_updates_total",
			Help:      "Total number of price update messages received from the relay",
		}),

		// Submission metrics
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "transactions_total",
			Help:      "Total number of submission attempts by outcome",
		}, []string{"outcome"}),
		SubmissionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "latency_seconds",
			Help:      "Submission latency from send to confirmation in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		ValidationRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "validation_rejections_total",
			Help:      "Total number of prices rejected by validation, by reason",
		}, []string{"reason"}),
		CircuitBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "circuit_breaker_open",
			Help:      "Whether the submission circuit breaker is open (1) or closed (0)",
		}),
		BlockhashRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "blockhash_refreshes_total",
			Help:      "Total number of blockhash cache refreshes",
		}),

		// Health metrics
		LastSuccessfulSubmission: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_submission_timestamp",
			Help:      "Unix timestamp of last confirmed submission",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordQuote increments the quotes received counter for a source.
func RecordQuote(source string) {
	DefaultMetrics.QuotesReceived.WithLabelValues(source).Inc()
}

// RecordRelayRestart increments the relay restart counter.
func RecordRelayRestart() {
	DefaultMetrics.RelayRestarts.Inc()
}

// RecordRejection increments the validation rejection counter for a reason.
func RecordRejection(reason string) {
	DefaultMetrics.ValidationRejections.WithLabelValues(reason).Inc()
}

// RecordSubmission increments the submission counter for an outcome.
func RecordSubmission(outcome string) {
	DefaultMetrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
}
