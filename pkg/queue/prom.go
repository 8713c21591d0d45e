package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes queue behavior to Prometheus. All series are labeled
// by queue name so per-queue rates and latencies can be graphed
// independently.
type Metrics struct {
	jobsEnqueued  *prometheus.CounterVec
	jobsClaimed   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsDead      *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsActive    *prometheus.GaugeVec
	orphansFound  prometheus.Counter
}

// NewMetrics registers the queue metric set with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpilot_queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}, []string{"queue"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpilot_queue_jobs_claimed_total",
			Help: "Total number of jobs claimed by workers",
		}, []string{"queue"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpilot_queue_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}, []string{"queue"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpilot_queue_jobs_retried_total",
			Help: "Total number of job attempts rescheduled with backoff",
		}, []string{"queue"}),
		jobsDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpilot_queue_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead-letter queue",
		}, []string{"queue", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpilot_queue_job_duration_seconds",
			Help:    "Handler execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		jobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpilot_queue_jobs_active",
			Help: "Jobs currently being processed",
		}, []string{"queue"}),
		orphansFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpilot_queue_orphans_requeued_total",
			Help: "Total number of stale-heartbeat jobs returned to waiting",
		}),
	}

	reg.MustRegister(
		m.jobsEnqueued,
		m.jobsClaimed,
		m.jobsCompleted,
		m.jobsRetried,
		m.jobsDead,
		m.jobDuration,
		m.jobsActive,
		m.orphansFound,
	)
	return m
}

func (m *Metrics) RecordEnqueue(queue string) {
	m.jobsEnqueued.WithLabelValues(queue).Inc()
}

func (m *Metrics) RecordClaim(queue string) {
	m.jobsClaimed.WithLabelValues(queue).Inc()
	m.jobsActive.WithLabelValues(queue).Inc()
}

func (m *Metrics) RecordCompleted(queue string, d time.Duration) {
	m.jobsCompleted.WithLabelValues(queue).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(d.Seconds())
	m.jobsActive.WithLabelValues(queue).Dec()
}

func (m *Metrics) RecordRetry(queue string, d time.Duration) {
	m.jobsRetried.WithLabelValues(queue).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(d.Seconds())
	m.jobsActive.WithLabelValues(queue).Dec()
}

func (m *Metrics) RecordDead(queue, reason string, d time.Duration) {
	m.jobsDead.WithLabelValues(queue, reason).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(d.Seconds())
	m.jobsActive.WithLabelValues(queue).Dec()
}

func (m *Metrics) RecordOrphans(n int) {
	m.orphansFound.Add(float64(n))
}
