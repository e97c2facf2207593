package baselines

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

// minSamples is the least history a baseline suggestion may stand on.
const minSamples = 12

// Baseline summarises one indicator's observed behaviour for a target and
// suggests threshold overrides derived from it. Suggestions are advisory;
// operators apply them to the evaluation config by hand.
type Baseline struct {
	Target      models.Target          `json:"target"`
	Indicator   models.IndicatorType   `json:"indicator"`
	SampleCount int                    `json:"sample_count"`
	Median      float64                `json:"median"`
	P95         float64                `json:"p95"`
	ObservedAt  time.Time              `json:"observed_at"`
	Suggested   config.ThresholdConfig `json:"suggested_thresholds"`
}

// Miner derives per-target baselines from indicator history. A non-nil store
// persists mined baselines for later inspection.
type Miner struct {
	store  kvstore.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store kvstore.Store, ttl time.Duration) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, ttl: ttl, logger: logger}
}

// Mine computes baselines for every indicator with enough history. Results
// are ordered by indicator importance.
func (m *Miner) Mine(ctx context.Context, target models.Target, history map[models.IndicatorType][]models.TrendPoint) []Baseline {
	if len(history) == 0 {
		return nil
	}

	mined := make([]Baseline, 0, len(history))
	for _, it := range models.IndicatorTypes {
		points, ok := history[it]
		if !ok || len(points) < minSamples {
			continue
		}

		values := make([]float64, 0, len(points))
		latest := points[0].Timestamp
		for _, point := range points {
			values = append(values, point.Value)
			if point.Timestamp.After(latest) {
				latest = point.Timestamp
			}
		}
		sort.Float64s(values)

		baseline := Baseline{
			Target:      target,
			Indicator:   it,
			SampleCount: len(values),
			Median:      quantile(values, 0.50),
			P95:         quantile(values, 0.95),
			ObservedAt:  latest,
			Suggested:   suggestThresholds(it, values),
		}
		mined = append(mined, baseline)
	}

	if m.store != nil && len(mined) > 0 {
		m.persist(ctx, target, mined)
	}
	return mined
}

func (m *Miner) persist(ctx context.Context, target models.Target, mined []Baseline) {
	data, err := json.Marshal(mined)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, "baseline:"+target.Key(), data, m.ttl); err != nil {
		m.logger.Warn("baseline store failed",
			slog.String("target", target.Key()),
			slog.Any("error", err),
		)
	}
}

// suggestThresholds turns observed quantiles into threshold suggestions. The
// healthy bound sits just past typical behaviour and the degraded bound past
// the observed tail, so normal variation does not trip the evaluator.
func suggestThresholds(it models.IndicatorType, sorted []float64) config.ThresholdConfig {
	if it.HigherIsBetter() {
		return config.ThresholdConfig{
			Healthy:  round2(quantile(sorted, 0.10)),
			Degraded: round2(quantile(sorted, 0.02)),
		}
	}
	return config.ThresholdConfig{
		Healthy:  round2(quantile(sorted, 0.90) * 1.1),
		Degraded: round2(quantile(sorted, 0.99) * 1.5),
	}
}

// quantile interpolates the q-th quantile of an ascending-sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
