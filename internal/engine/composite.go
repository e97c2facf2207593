package engine

import (
	"github.com/observastack/health-sentinel/internal/models"
)

// CompositeAggregator folds per-indicator states into one target verdict
// using importance- and confidence-weighted voting.
type CompositeAggregator struct {
	weights map[models.IndicatorType]float64
}

// NewCompositeAggregator constructs an aggregator; missing weight entries
// fall back to the built-in importance order.
func NewCompositeAggregator(weights map[models.IndicatorType]float64) *CompositeAggregator {
	defaults := defaultWeights()
	merged := make(map[models.IndicatorType]float64, len(defaults))
	for it, w := range defaults {
		merged[it] = w
	}
	for it, w := range weights {
		if w > 0 {
			merged[it] = w
		}
	}
	return &CompositeAggregator{weights: merged}
}

// Aggregate computes the composite state and its weighted score. An empty
// indicator set (or one with no confidence at all) defaults to healthy with
// score 0; the confidence model flags that case separately.
func (a *CompositeAggregator) Aggregate(indicators []models.Indicator) (models.HealthState, float64) {
	var weightedSum, weightTotal float64
	for _, ind := range indicators {
		w := a.weights[ind.Type] * ind.Confidence
		weightedSum += float64(ind.State.Rank()) * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return models.StateHealthy, 0
	}

	score := weightedSum / weightTotal
	switch {
	case score < 0.5:
		return models.StateHealthy, score
	case score < 1.5:
		return models.StateDegraded, score
	default:
		return models.StateUnhealthy, score
	}
}

func defaultWeights() map[models.IndicatorType]float64 {
	return map[models.IndicatorType]float64{
		models.IndicatorErrorRate:    3.0,
		models.IndicatorAvailability: 2.5,
		models.IndicatorLatency:      2.0,
		models.IndicatorThroughput:   1.5,
		models.IndicatorSaturation:   1.0,
	}
}
