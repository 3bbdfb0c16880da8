package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FieldsClassified counts per-field results by source and category.
	FieldsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_autofill_fields_classified_total",
			Help: "Total number of form fields classified",
		},
		[]string{"source", "category"},
	)

	// RemoteAttempts counts outbound classification attempts by outcome.
	RemoteAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_autofill_remote_attempts_total",
			Help: "Total number of outbound classification attempts",
		},
		[]string{"outcome"},
	)

	// RemoteInFlight tracks classification calls currently holding a limiter token.
	RemoteInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hh_autofill_remote_in_flight",
			Help: "Classification calls currently in flight",
		},
	)

	// LimiterWait tracks how long workers waited for a limiter token.
	LimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hh_autofill_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheErrors counts persistence failures by cache operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hh_autofill_cache_errors_total",
			Help: "Total number of classification cache persistence failures",
		},
		[]string{"operation"},
	)

	// BatchDuration tracks the wall time of a whole batch.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hh_autofill_batch_duration_seconds",
			Help:    "Time spent classifying one batch of fields",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Attempt outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeTransient    = "transient"
	OutcomeNonTransient = "non_transient"
)
