package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "job_worker"

var (
	// PollsTotal counts poll calls by outcome (ok, error, skipped)
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of dispatcher ticks by poll outcome.",
		},
		[]string{"outcome"},
	)

	// JobsPolledTotal counts jobs returned by the job source
	JobsPolledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_polled_total",
			Help:      "Total number of jobs returned by the job source.",
		},
	)

	// SubmissionsTotal counts pool submissions by outcome (accepted, rejected, duplicate)
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of job submissions to the worker pool.",
		},
		[]string{"outcome"},
	)

	// AcknowledgementsTotal counts acknowledge results by returned job status
	AcknowledgementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acknowledgements_total",
			Help:      "Total number of job acknowledgements by returned status.",
		},
		[]string{"status"},
	)

	// ResultsTotal counts reported results (success, failure)
	ResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Total number of job results reported to the job source.",
		},
		[]string{"result"},
	)

	// TaskErrorsTotal counts tasks that ended early, by the stage that failed
	TaskErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Total number of job tasks aborted by an error or panic.",
		},
		[]string{"stage"},
	)

	// ActiveTasks is the number of tasks accepted by the pool and not yet finished
	ActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of job tasks queued or running in the worker pool.",
		},
	)

	// TaskDuration observes how long a task took from acknowledge to report
	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of job tasks.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// HTTPRequestsTotal counts admin API requests by route template and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of admin API requests.",
		},
		[]string{"method", "route", "code"},
	)
)
