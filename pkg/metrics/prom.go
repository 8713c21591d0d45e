package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// Gauges mirrors the latest snapshot values into the Prometheus
// registry so dashboards can scrape per-user health alongside the
// queue counters.
type Gauges struct {
	healthScore *prometheus.GaugeVec
	queueDepth  *prometheus.GaugeVec
	errorRate   *prometheus.GaugeVec
	activeJobs  *prometheus.GaugeVec
}

// NewGauges registers the snapshot gauges with reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpilot_system_health_score",
			Help: "Health score per user, 0-100.",
		}, []string{"user"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpilot_system_queue_depth",
			Help: "Waiting plus delayed jobs per user.",
		}, []string{"user"}),
		errorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpilot_system_error_rate",
			Help: "Failed over finished jobs in the collector window, per user.",
		}, []string{"user"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpilot_system_active_jobs",
			Help: "Jobs currently executing per user.",
		}, []string{"user"}),
	}
	reg.MustRegister(g.healthScore, g.queueDepth, g.errorRate, g.activeJobs)
	return g
}

// Observe pushes one collected view into the gauges.
func (g *Gauges) Observe(m *models.SystemMetrics) {
	g.healthScore.WithLabelValues(m.UserID).Set(m.HealthScore)
	g.queueDepth.WithLabelValues(m.UserID).Set(float64(m.QueueDepth))
	g.errorRate.WithLabelValues(m.UserID).Set(m.ErrorRate)
	g.activeJobs.WithLabelValues(m.UserID).Set(float64(m.ActiveJobs))
}
