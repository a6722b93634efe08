// Package metrics holds the prometheus collectors for the discovery
// pipeline. Helpers are safe to call before MustRegister.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "price_discovery"

var (
	once sync.Once

	cascadeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_runs_total",
			Help:      "Discovery cascade runs by outcome.",
		},
		[]string{"outcome"},
	)

	cascadeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_duration_seconds",
			Help:      "Wall-clock duration of discovery cascade runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
		},
	)

	tierAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Cascade tier attempts by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	breakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker trips by dependency.",
		},
		[]string{"dependency"},
	)

	jobAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_acquisitions_total",
			Help:      "Discovery job acquisitions, acquired or attached to an existing job.",
		},
		[]string{"result"},
	)

	poolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_queue_depth",
			Help:      "Tasks waiting in the background worker pool.",
		},
	)

	poolRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_pool_rejected_total",
			Help:      "Tasks rejected because the worker pool queue was full.",
		},
	)

	inquiries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inquiries_total",
			Help:      "Inquiry lifecycle events by status.",
		},
		[]string{"status"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking runs by final state.",
		},
		[]string{"state"},
	)

	searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Hybrid search latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"discovery_triggered"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			cascadeRuns, cascadeDuration, tierAttempts, breakerTrips,
			jobAcquisitions, poolQueueDepth, poolRejected, inquiries, bookings, searchLatency,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObserveCascade records a finished cascade run.
func ObserveCascade(outcome string, d time.Duration) {
	cascadeRuns.WithLabelValues(norm(outcome)).Inc()
	cascadeDuration.Observe(d.Seconds())
}

// IncTierAttempt counts one tier attempt.
func IncTierAttempt(tier, outcome string) {
	tierAttempts.WithLabelValues(norm(tier), norm(outcome)).Inc()
}

// IncBreakerTrip counts a breaker opening.
func IncBreakerTrip(dependency string) {
	breakerTrips.WithLabelValues(norm(dependency)).Inc()
}

// IncJobAcquisition counts a TryAcquire result.
func IncJobAcquisition(acquired bool) {
	result := "attached"
	if acquired {
		result = "acquired"
	}
	jobAcquisitions.WithLabelValues(result).Inc()
}

// SetQueueDepth sets the worker pool backlog gauge.
func SetQueueDepth(n int) { poolQueueDepth.Set(float64(n)) }

// IncPoolRejected counts a rejected submission.
func IncPoolRejected() { poolRejected.Inc() }

// IncInquiry counts an inquiry status event (sent, replied, expired,
// contact_not_found, send_failed).
func IncInquiry(status string) {
	inquiries.WithLabelValues(norm(status)).Inc()
}

// ObserveSearch records a hybrid search.
func ObserveSearch(d time.Duration, discoveryTriggered bool) {
	label := "false"
	if discoveryTriggered {
		label = "true"
	}
	searchLatency.WithLabelValues(label).Observe(d.Seconds())
}

// IncBooking counts a finished booking run.
func IncBooking(state string) {
	bookings.WithLabelValues(norm(state)).Inc()
}
