package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rule evaluations by trigger type and outcome (matched, success, partial)
	RuleFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prayerflow_rule_firings_total",
			Help: "Automation rule firings by trigger type and outcome",
		},
		[]string{"trigger_type", "outcome"},
	)

	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prayerflow_messages_enqueued_total",
			Help: "Messages added to the queue by channel",
		},
		[]string{"channel"},
	)

	// Delivery attempts by channel and result (sent, retry, failed)
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prayerflow_delivery_attempts_total",
			Help: "Delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prayerflow_delivery_duration_seconds",
			Help:    "Time spent inside the channel provider per attempt",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"channel"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prayerflow_sweep_duration_seconds",
			Help:    "Duration of periodic trigger sweeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"sweep"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prayerflow_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRuleFiring increments the rule firing counter
func RecordRuleFiring(triggerType, outcome string) {
	RuleFirings.WithLabelValues(triggerType, outcome).Inc()
}

// RecordEnqueued increments the enqueue counter
func RecordEnqueued(channel string) {
	MessagesEnqueued.WithLabelValues(channel).Inc()
}

// RecordDelivery records one delivery attempt
func RecordDelivery(channel, result string, duration time.Duration) {
	DeliveryAttempts.WithLabelValues(channel, result).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordSweep records how long a sweep took
func RecordSweep(sweep string, duration time.Duration) {
	SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

// RecordHTTPRequest records HTTP request latency
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
