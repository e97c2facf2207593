package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels evaluations that produced a verdict.
	OutcomeSuccess = "success"
	// OutcomeError labels evaluations that failed on a dependency or input.
	OutcomeError = "error"

	// DirectionDegraded labels transitions into a worse state.
	DirectionDegraded = "degraded"
	// DirectionImproved labels transitions into a better state.
	DirectionImproved = "improved"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "health_sentinel",
			Name:      "evaluations_total",
			Help:      "Total number of health evaluations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "health_sentinel",
			Name:      "evaluation_seconds",
			Help:      "Evaluation latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "health_sentinel",
			Name:      "state_transitions_total",
			Help:      "Confirmed hysteresis state transitions, partitioned by direction.",
		},
		[]string{"direction"},
	)
)

// Register attaches health-sentinel collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		stateTransitionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records an evaluation duration and outcome label.
func ObserveEvaluation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	evaluationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// ObserveTransition records a confirmed state transition.
func ObserveTransition(direction string) {
	if direction != DirectionDegraded {
		direction = DirectionImproved
	}
	stateTransitionsTotal.WithLabelValues(direction).Inc()
}
