package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	events         *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
	deliveryErrors *prometheus.CounterVec
}

func newMetrics(registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)
	return &metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_events_total",
			Help: "Events published on the bus, by type.",
		}, []string{"type"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "verdict_event_subscribers",
			Help: "Active event subscribers, by type and kind.",
		}, []string{"type", "kind"}),
		deliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_event_delivery_errors_total",
			Help: "Failed or dropped event deliveries, by type and kind.",
		}, []string{"type", "kind"}),
	}
}
