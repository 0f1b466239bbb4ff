package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobOutcomeOK      = "ok"
	JobOutcomeError   = "error"
	JobOutcomeSkipped = "skipped"
)

// SchedulerMetrics tracks background job runs.
type SchedulerMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
}

func NewSchedulerMetrics() *SchedulerMetrics {
	return newSchedulerMetrics(prometheus.DefaultRegisterer)
}

func newSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stitchery_scheduler_job_runs_total",
		Help: "Scheduler job runs by job and outcome.",
	}, []string{"job", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stitchery_scheduler_job_duration_seconds",
		Help:    "Scheduler job duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stitchery_scheduler_job_items_total",
		Help: "Items processed per scheduler job.",
	}, []string{"job"})

	reg.MustRegister(runs, duration, items)
	return &SchedulerMetrics{runs: runs, duration: duration, items: items}
}

func (m *SchedulerMetrics) ObserveRun(job, outcome string, elapsed time.Duration, processed int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if processed > 0 {
		m.items.WithLabelValues(job).Add(float64(processed))
	}
}
