package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Published    *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	Parked       *prometheus.CounterVec
	Deferred     *prometheus.CounterVec
	BreakerState prometheus.Gauge
	Purged       prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "parcelbox"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "jobs_published_total",
			Help: "Outbox jobs published to kafka",
		}, []string{"kind"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "jobs_failed_total",
			Help: "Failed publish attempts",
		}, []string{"kind"}),
		Parked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "jobs_parked_total",
			Help: "Jobs that ran out of retries",
		}, []string{"kind"}),
		Deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "jobs_deferred_total",
			Help: "Jobs left for a later cycle without an attempt",
		}, []string{"kind", "reason"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "breaker_state",
			Help: "Publish circuit breaker state: 0 closed, 1 half-open, 2 open",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "jobs_purged_total",
			Help: "Published jobs removed by cleanup",
		}),
	}
	reg.MustRegister(m.Published, m.Failed, m.Parked, m.Deferred, m.BreakerState, m.Purged)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
