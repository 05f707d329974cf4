package trainer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the trainer's prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	publishes       prometheus.Counter
	publishSkips    prometheus.Counter
	trainFailures   prometheus.Counter
	roundsCompleted prometheus.Counter
	currentRound    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		publishes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "publishes_total",
			Help:      "Number of output/reward publications to the shared store.",
		}),
		publishSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "publish_skips_total",
			Help:      "Number of publish cycles skipped due to missing outputs.",
		}),
		trainFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "train_failures_total",
			Help:      "Number of failed training attempts.",
		}),
		roundsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "rounds_completed_total",
			Help:      "Number of rounds this node has attempted.",
		}),
		currentRound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Name:      "current_round",
			Help:      "Round number this node is currently working on.",
		}),
	}
}

func (m *Metrics) publish() {
	if m != nil {
		m.publishes.Inc()
	}
}

func (m *Metrics) publishSkip() {
	if m != nil {
		m.publishSkips.Inc()
	}
}

func (m *Metrics) trainFailure() {
	if m != nil {
		m.trainFailures.Inc()
	}
}

func (m *Metrics) roundCompleted() {
	if m != nil {
		m.roundsCompleted.Inc()
	}
}

func (m *Metrics) setCurrentRound(round int) {
	if m != nil {
		m.currentRound.Set(float64(round))
	}
}
