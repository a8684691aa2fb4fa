package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	waiting   prometheus.Gauge
	running   prometheus.Gauge
	admitted  prometheus.Counter
	abandoned prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, capacity int) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "urska_queue_waiting",
			Help: "Entries waiting for admission.",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "urska_queue_running",
			Help: "Entries currently admitted.",
		}),
		admitted: f.NewCounter(prometheus.CounterOpts{
			Name: "urska_queue_admitted_total",
			Help: "Entries that received StartJob.",
		}),
		abandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "urska_queue_abandoned_total",
			Help: "Entries dropped because the caller was gone at admission time.",
		}),
	}
	f.NewGauge(prometheus.GaugeOpts{
		Name: "urska_queue_capacity",
		Help: "Maximum concurrently admitted entries.",
	}).Set(float64(capacity))
	return m
}

func (m *metrics) observe(st *state) {
	m.waiting.Set(float64(len(st.waiting)))
	m.running.Set(float64(len(st.running)))
}
