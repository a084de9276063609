package infra

import (
	"context"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats exporta o desfecho de cada requisição como métricas.
//
// Labels usam o padrão da rota (não o path) para manter a cardinalidade baixa.
type PrometheusStats struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewPrometheusStats(reg prometheus.Registerer) *PrometheusStats {
	s := &PrometheusStats{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_requests_total",
				Help: "Requests handled by the admission pipeline, by route and outcome.",
			},
			[]string{"method", "route", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_request_duration_seconds",
				Help:    "Time spent in the admission pipeline, by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	if reg != nil {
		reg.MustRegister(s.requests, s.duration)
	}
	return s
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := ev.Outcome
	if outcome == "" {
		outcome = "ok"
	}
	s.requests.WithLabelValues(ev.Method, ev.Route, outcome).Inc()
	s.duration.WithLabelValues(ev.Method, ev.Route).Observe(ev.Duration.Seconds())
	return nil
}
