package voting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	started    *prometheus.CounterVec
	votes      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	implement  *prometheus.CounterVec
	instances  prometheus.Gauge
}

func newMetrics(registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)
	return &metrics{
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_instances_started_total",
			Help: "Voting instances started, by strategy.",
		}, []string{"strategy"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_votes_total",
			Help: "Accepted votes, by strategy.",
		}, []string{"strategy"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_vote_rejections_total",
			Help: "Rejected votes, by reason.",
		}, []string{"reason"}),
		implement: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_implement_total",
			Help: "Implement calls that reached the target, by outcome.",
		}, []string{"outcome"}),
		instances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verdict_instances_current",
			Help: "Highest allocated instance id.",
		}),
	}
}

func (m *metrics) startedInstance(strategy string, index uint64) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(strategy).Inc()
	m.instances.Set(float64(index))
}

func (m *metrics) vote(strategy string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(strategy).Inc()
}

func (m *metrics) rejectVote(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *metrics) outcome(outcome string) {
	if m == nil {
		return
	}
	m.implement.WithLabelValues(outcome).Inc()
}
