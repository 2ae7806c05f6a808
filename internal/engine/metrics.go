package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	unitsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_units_running",
		Help: "Execution units currently running.",
	})

	unitsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_units_queued",
		Help: "Execution units waiting for a slot or a target lock.",
	})

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by state.",
		},
		[]string{"state"},
	)

	schedulerMisfires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_scheduler_misfires_total",
		Help: "Due schedule rules suppressed because a prior job was still active.",
	})

	checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_check_duration_seconds",
			Help:    "Check execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check", "outcome"},
	)

	reportDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_report_deliveries_total",
			Help: "Report handoff attempts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(unitsRunning)
	prometheus.MustRegister(unitsQueued)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(schedulerMisfires)
	prometheus.MustRegister(checkDuration)
	prometheus.MustRegister(reportDeliveries)
}
