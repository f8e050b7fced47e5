package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes
const (
	OutcomeAcked        = "acked"
	OutcomeDiscarded    = "discarded"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
)

var (
	// Submission results: accepted, rejected, failed, enqueue_failed
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaconv_jobs_submitted_total",
			Help: "Total number of upload submissions by result",
		},
		[]string{"result"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaconv_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaconv_deliveries_total",
			Help: "Total number of queue deliveries by outcome",
		},
		[]string{"outcome"},
	)

	ConversionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaconv_conversion_duration_seconds",
			Help:    "Time spent running the converter",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaconv_jobs_in_flight",
			Help: "Number of jobs currently being converted",
		},
	)

	ReconcilerRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaconv_reconciler_requeued_total",
			Help: "Total number of orphaned queued jobs republished",
		},
	)
)
