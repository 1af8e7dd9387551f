// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_poll_cycles_total",
			Help: "Completed poll cycles by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradewatch_poll_cycle_duration_seconds",
			Help:    "Wall-clock duration of a poll cycle",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	SubjectsPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_subjects_polled_total",
			Help: "Per-subject poll outcomes",
		},
		[]string{"outcome"},
	)

	PollInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gradewatch_poll_in_flight",
			Help: "Subjects currently being polled",
		},
	)

	// Session metrics
	Reauthentications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_reauthentications_total",
			Help: "Portal logins performed to replace a missing or rejected token",
		},
		[]string{"result"}, // "ok", "failed"
	)

	// Delivery metrics
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_notifications_total",
			Help: "Grade change notifications by delivery result",
		},
		[]string{"result"}, // "sent", "unreachable", "rejected"
	)

	// Registration metrics
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_registration_steps_total",
			Help: "Registration flow steps by outcome",
		},
		[]string{"outcome"},
	)

	// Portal metrics
	PortalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_portal_requests_total",
			Help: "Portal GraphQL requests by operation and result",
		},
		[]string{"operation", "result"},
	)

	PortalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradewatch_portal_request_duration_seconds",
			Help:    "Portal GraphQL request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gradewatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradewatch_http_requests_total",
			Help: "Status endpoint requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradewatch_http_request_duration_seconds",
			Help:    "Status endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordPollCycle records a finished cycle.
func RecordPollCycle(duration time.Duration, err error) {
	PollCycleDuration.Observe(duration.Seconds())
	if err != nil {
		PollCycles.WithLabelValues("error").Inc()
		return
	}
	PollCycles.WithLabelValues("ok").Inc()
}

// RecordPortalRequest records one portal round trip.
func RecordPortalRequest(operation string, duration time.Duration, err error) {
	PortalRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	PortalRequests.WithLabelValues(operation, result).Inc()
}

// RecordHTTPRequest records one status endpoint request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
