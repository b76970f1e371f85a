package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	// Call lifecycle transitions, labelled by the state entered.
	CallTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "calls",
			Name:      "transitions_total",
			Help:      "Call session state transitions",
		},
		[]string{"status"},
	)

	CallsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "companion",
			Subsystem: "calls",
			Name:      "live",
			Help:      "Call sessions currently held in the registry",
		},
	)

	CallsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "calls",
			Name:      "reaped_total",
			Help:      "Stale call sessions evicted by the cleanup job",
		},
	)

	SessionsRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "history",
			Name:      "sessions_recorded_total",
			Help:      "Session history rows written",
		},
	)

	EntitlementChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "entitlement",
			Name:      "checks_total",
			Help:      "Companion creation entitlement checks",
		},
		[]string{"result"},
	)

	BookmarkOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "bookmarks",
			Name:      "operations_total",
			Help:      "Bookmark operations by backend mode",
		},
		[]string{"mode", "operation", "status"},
	)
)
