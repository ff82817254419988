package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_jobs_processed_total",
			Help: "Job attempts settled by workers, by job name and outcome.",
		},
		[]string{"name", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordersync_job_duration_seconds",
			Help:    "Duration of job handler runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)

	jobsStalled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersync_jobs_stalled",
		Help: "Active jobs running longer than the stall timeout at the last check.",
	})

	jobsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_jobs_scheduled_total",
		Help: "Jobs enqueued, replacing any live job with the same dedup key.",
	})

	cycleGroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_cycle_groups_total",
			Help: "Sync groups visited by the daily cycle, by outcome.",
		},
		[]string{"outcome"},
	)

	credentialRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_credential_renewals_total",
			Help: "Credential renewal attempts, by result.",
		},
		[]string{"result"},
	)
)

// Outcome label values.
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeReleased  = "released"

	outcomeScheduled = "scheduled"
	outcomeSkipped   = "skipped"
)
