// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Reminder job metrics.
var (
	ReminderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_job_runs_total",
			Help: "Reminder job runs by outcome (success, failed, locked)",
		},
		[]string{"status"},
	)

	ReminderRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_job_duration_seconds",
			Help:    "Duration of a reminder job run in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ReminderNotificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_notifications_scheduled_total",
			Help: "Notifications scheduled by the reminder job",
		},
		[]string{"event_type"},
	)

	ReminderRulesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_rules_skipped_total",
			Help: "Rules skipped because of a configuration error",
		},
		[]string{"error_code"},
	)

	ReminderEntitiesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_entities_skipped_total",
			Help: "Entities skipped because of a resolution error",
		},
		[]string{"error_code"},
	)

	ReminderDuplicateTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_duplicate_triggers_total",
			Help: "Triggers found already recorded, by pre-check or by the unique constraint",
		},
	)
)

// Dispatcher metrics.
var (
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Dispatch attempts by channel and resulting status",
		},
		[]string{"channel", "status"},
	)
)

// Collectors returns the reminder job collectors, for pushing to a Pushgateway.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ReminderRuns,
		ReminderRunDuration,
		ReminderNotificationsScheduled,
		ReminderRulesSkipped,
		ReminderEntitiesSkipped,
		ReminderDuplicateTriggers,
	}
}
