package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_ingest_runs_total",
			Help: "Total number of ingestion runs by outcome",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platform_ingest_run_duration_seconds",
			Help:    "Duration of a full ingestion run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastRunSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platform_ingest_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last run that completed without aborting",
		},
	)

	// Per-object metrics
	ObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_ingest_objects_total",
			Help: "Total number of objects processed by outcome",
		},
		[]string{"outcome"},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platform_ingest_ticks_skipped_total",
			Help: "Scheduler ticks skipped because a run was still in flight",
		},
	)
)
