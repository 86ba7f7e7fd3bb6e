package infra

import (
	"context"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PromStats expõe os desfechos de lances e do replay da fila como contadores Prometheus.
// Não usa AuctionID como label para não explodir a cardinalidade.
type PromStats struct {
	outcomes *prometheus.CounterVec
	jobs     *prometheus.CounterVec
}

func NewPromStats(reg prometheus.Registerer) *PromStats {
	s := &PromStats{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotlimit",
			Name:      "bid_outcomes_total",
			Help:      "Bid events by ingestion outcome.",
		}, []string{"status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotlimit",
			Name:      "retry_jobs_total",
			Help:      "Retry jobs processed by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(s.outcomes, s.jobs)
	}
	return s
}

func (s *PromStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.outcomes.WithLabelValues(string(ev.Status)).Inc()
	return nil
}

// JobProcessed implementa application.WorkerMetrics.
func (s *PromStats) JobProcessed(kind domain.JobKind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	s.jobs.WithLabelValues(string(kind), result).Inc()
}
