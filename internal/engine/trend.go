package engine

import (
	"math"
	"sort"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
)

// TrendAnalyzer fits an ordinary-least-squares line to a time-ordered series
// of indicator values and classifies the direction of change. Goodness of
// fit (r squared) doubles as the trend's confidence.
type TrendAnalyzer struct {
	cfg       config.TrendConfig
	evaluator *IndicatorEvaluator
}

// NewTrendAnalyzer constructs an analyzer. The indicator evaluator maps
// predicted values back onto discrete states.
func NewTrendAnalyzer(cfg config.TrendConfig, evaluator *IndicatorEvaluator) *TrendAnalyzer {
	if cfg.VolatileRSquaredBelow <= 0 {
		cfg.VolatileRSquaredBelow = 0.3
	}
	if cfg.ImprovingSlopePerHour <= 0 {
		cfg.ImprovingSlopePerHour = 0.01
	}
	if cfg.DegradingSlopePerHour <= 0 {
		cfg.DegradingSlopePerHour = 0.01
	}
	if cfg.PredictRSquaredMin <= 0 {
		cfg.PredictRSquaredMin = 0.5
	}
	if evaluator == nil {
		evaluator = NewIndicatorEvaluator(nil)
	}
	return &TrendAnalyzer{cfg: cfg, evaluator: evaluator}
}

// Analyze fits a trend for one indicator. Fewer than two points yield nil:
// no directional claim is possible. A one-hour-ahead state prediction is
// emitted only when the fit explains enough of the variance.
func (t *TrendAnalyzer) Analyze(it models.IndicatorType, points []models.TrendPoint, predictAhead bool) *models.TrendAnalysis {
	if len(points) < 2 {
		return nil
	}

	sorted := append([]models.TrendPoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	slope, intercept, rSquared := fitLine(sorted)

	analysis := &models.TrendAnalysis{
		IndicatorType: it,
		Trend:         t.classify(it, slope, rSquared),
		Slope:         slope,
		RSquared:      rSquared,
		DataPoints:    sorted,
		Confidence:    rSquared,
	}

	lastX := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Hours()
	firstFit := intercept
	lastFit := intercept + slope*lastX
	if firstFit != 0 {
		analysis.ChangePercentage = (lastFit - firstFit) / firstFit * 100
	}

	if predictAhead && rSquared >= t.cfg.PredictRSquaredMin {
		predicted := intercept + slope*(lastX+1)
		if predicted < 0 {
			predicted = 0
		}
		state, _ := t.evaluator.Evaluate(it, predicted)
		analysis.PredictedStateIn1H = &state
	}

	return analysis
}

// classify applies the precedence from the design: volatile beats any slope
// claim, then the slope is normalised by the indicator's polarity so a
// positive value always means improving.
func (t *TrendAnalyzer) classify(it models.IndicatorType, slope, rSquared float64) models.Trend {
	if rSquared < t.cfg.VolatileRSquaredBelow {
		return models.TrendVolatile
	}

	normalised := slope
	if !it.HigherIsBetter() {
		normalised = -slope
	}

	switch {
	case normalised > t.cfg.ImprovingSlopePerHour:
		return models.TrendImproving
	case normalised < -t.cfg.DegradingSlopePerHour:
		return models.TrendDegrading
	default:
		return models.TrendStable
	}
}

// AggregateTrend picks the dominant trend across indicators by
// confidence-weighted vote. No trends yields stable.
func (t *TrendAnalyzer) AggregateTrend(trends []models.TrendAnalysis) models.Trend {
	if len(trends) == 0 {
		return models.TrendStable
	}
	votes := make(map[models.Trend]float64, 4)
	for _, tr := range trends {
		votes[tr.Trend] += tr.Confidence
	}

	best := models.TrendStable
	bestVote := -1.0
	for _, candidate := range []models.Trend{models.TrendImproving, models.TrendStable, models.TrendDegrading, models.TrendVolatile} {
		if v, ok := votes[candidate]; ok && v > bestVote {
			best = candidate
			bestVote = v
		}
	}
	return best
}

// fitLine computes slope, intercept and r squared over hours-since-first.
// A degenerate time axis (all points coincident) yields slope 0 and r
// squared 0; a perfectly flat series is a perfect fit (r squared 1).
func fitLine(points []models.TrendPoint) (slope, intercept, rSquared float64) {
	n := float64(len(points))
	first := points[0].Timestamp

	var sumX, sumY, sumXY, sumXX, sumYY float64
	for _, p := range points {
		x := p.Timestamp.Sub(first).Hours()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
		sumYY += p.Value * p.Value
	}

	denomX := n*sumXX - sumX*sumX
	if denomX == 0 {
		return 0, sumY / n, 0
	}

	slope = (n*sumXY - sumX*sumY) / denomX
	intercept = (sumY - slope*sumX) / n

	denomY := n*sumYY - sumY*sumY
	if denomY == 0 {
		// No variance in the values: the flat fit is exact.
		return slope, intercept, 1
	}

	r := (n*sumXY - sumX*sumY) / math.Sqrt(denomX*denomY)
	rSquared = r * r
	return slope, intercept, clamp01(rSquared)
}
