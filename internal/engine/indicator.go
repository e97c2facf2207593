package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
)

// IndicatorEvaluator derives health indicators from a telemetry aggregate and
// classifies each against its configured threshold pair. It never fails on
// bad-but-plausible input: a zero-sample aggregate yields valid indicators
// with zero confidence.
type IndicatorEvaluator struct {
	thresholds map[models.IndicatorType]config.ThresholdConfig
}

// NewIndicatorEvaluator constructs an evaluator; missing threshold entries
// fall back to the built-in defaults.
func NewIndicatorEvaluator(thresholds map[models.IndicatorType]config.ThresholdConfig) *IndicatorEvaluator {
	defaults := config.Default().Evaluation.Thresholds
	merged := make(map[models.IndicatorType]config.ThresholdConfig, len(defaults))
	for it, th := range defaults {
		merged[it] = th
	}
	for it, th := range thresholds {
		merged[it] = th
	}
	return &IndicatorEvaluator{thresholds: merged}
}

// Derive extracts every derivable indicator from the aggregate. Latency
// prefers p95 and falls back to the average; saturation is emitted only when
// the collector supplied a sample.
func (e *IndicatorEvaluator) Derive(agg models.TelemetryAggregate) []models.Indicator {
	window := agg.WindowDuration()
	samples := agg.RequestCount

	latency := agg.LatencyAvgMS
	if agg.LatencyP95MS != nil {
		latency = *agg.LatencyP95MS
	}
	errorRate := agg.ErrorRatePct()

	throughput := 0.0
	if secs := window.Seconds(); secs > 0 {
		throughput = float64(agg.RequestCount) / secs
	}

	indicators := []models.Indicator{
		e.build(models.IndicatorLatency, latency, samples, window),
		e.build(models.IndicatorErrorRate, errorRate, samples, window),
		e.build(models.IndicatorThroughput, throughput, samples, window),
		e.build(models.IndicatorAvailability, 100-errorRate, samples, window),
	}
	if agg.SaturationPct != nil {
		indicators = append(indicators, e.build(models.IndicatorSaturation, *agg.SaturationPct, samples, window))
	}
	return indicators
}

func (e *IndicatorEvaluator) build(it models.IndicatorType, value float64, samples int64, window time.Duration) models.Indicator {
	state, reason := e.Evaluate(it, value)
	return models.Indicator{
		Type:              it,
		CurrentValue:      value,
		Unit:              unitFor(it),
		State:             state,
		StateReason:       reason,
		SampleSize:        samples,
		Confidence:        SampleConfidence(samples),
		MeasurementWindow: models.DurationMS(window),
	}
}

// Evaluate classifies one raw value for the given indicator type and returns
// the state together with a human-readable reason citing the threshold
// crossed. Unknown indicator types are a programming error and abort.
func (e *IndicatorEvaluator) Evaluate(it models.IndicatorType, value float64) (models.HealthState, string) {
	th, ok := e.thresholds[it]
	if !ok {
		th = config.Default().Evaluation.Thresholds[it]
	}
	unit := unitFor(it)

	switch it {
	case models.IndicatorLatency, models.IndicatorErrorRate, models.IndicatorSaturation:
		// Lower is better.
		switch {
		case value <= th.Healthy:
			return models.StateHealthy, fmt.Sprintf("%s %.2f%s within healthy threshold %.2f%s", it, value, unit, th.Healthy, unit)
		case value <= th.Degraded:
			return models.StateDegraded, fmt.Sprintf("%s %.2f%s > %.2f%s healthy threshold", it, value, unit, th.Healthy, unit)
		default:
			return models.StateUnhealthy, fmt.Sprintf("%s %.2f%s > %.2f%s degraded threshold", it, value, unit, th.Degraded, unit)
		}
	case models.IndicatorThroughput, models.IndicatorAvailability:
		// Higher is better.
		switch {
		case value >= th.Healthy:
			return models.StateHealthy, fmt.Sprintf("%s %.2f%s within healthy threshold %.2f%s", it, value, unit, th.Healthy, unit)
		case value >= th.Degraded:
			return models.StateDegraded, fmt.Sprintf("%s %.2f%s < %.2f%s healthy threshold", it, value, unit, th.Healthy, unit)
		default:
			return models.StateUnhealthy, fmt.Sprintf("%s %.2f%s < %.2f%s degraded threshold", it, value, unit, th.Degraded, unit)
		}
	default:
		panic(fmt.Sprintf("unknown indicator type %q", it))
	}
}

// SampleConfidence maps a sample count onto [0,1] with a saturating log10
// curve: ~0 at n=0, slow rise below 10 samples, ~1 near 1000 samples.
func SampleConfidence(n int64) float64 {
	if n <= 0 {
		return 0
	}
	c := math.Log10(float64(n)+1) / 3
	if c > 1 {
		c = 1
	}
	return round2(c)
}

func unitFor(it models.IndicatorType) string {
	switch it {
	case models.IndicatorLatency:
		return "ms"
	case models.IndicatorThroughput:
		return "req/s"
	case models.IndicatorErrorRate, models.IndicatorSaturation, models.IndicatorAvailability:
		return "%"
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
