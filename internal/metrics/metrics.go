// Package metrics holds the Prometheus collectors shared by the worker.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_jobs_total",
			Help: "Jobs finished by the dispatch queue, by job name and final status.",
		},
		[]string{"job", "status"},
	)
	JobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_job_retries_total",
			Help: "Job attempts retried after an executor fault.",
		},
		[]string{"job"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchdog_job_duration_seconds",
			Help:    "Wall time of a job including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_probes_total",
			Help: "Probes executed, by outcome classification.",
		},
		[]string{"classification"},
	)
	TargetsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_targets_dispatched_total",
			Help: "Probe jobs enqueued by scheduler ticks.",
		},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_alerts_total",
			Help: "Alert jobs handled, by template and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobRetries)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(TargetsDispatched)
	prometheus.MustRegister(AlertsTotal)
}
