package infra

import (
	"context"

	"coalescing-gateway/middleware/coalesce/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe os eventos do coalescer como métricas.
//
// A Key não vira label: a cardinalidade fica presa ao número de kinds.
type PrometheusStatsStore struct {
	Events       *prometheus.CounterVec
	ThrottleWait prometheus.Histogram
}

func NewPrometheusStatsStore(namespace string) *PrometheusStatsStore {
	return &PrometheusStatsStore{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesce_events_total",
			Help:      "Number of coalescer events by kind.",
		}, []string{"kind"}),
		ThrottleWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coalesce_throttle_wait_seconds",
			Help:      "Time callers waited for the minimum interval before dispatching.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

// MustRegister registra as métricas no registerer informado.
func (p *PrometheusStatsStore) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(p.Events, p.ThrottleWait)
}

func (p *PrometheusStatsStore) Unregister(reg prometheus.Registerer) {
	reg.Unregister(p.Events)
	reg.Unregister(p.ThrottleWait)
}

func (p *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	p.Events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == domain.EventThrottled {
		p.ThrottleWait.Observe(ev.Wait.Seconds())
	}
	return nil
}
