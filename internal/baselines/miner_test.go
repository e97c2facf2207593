package baselines

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

func latencyHistory(values ...float64) []models.TrendPoint {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	points := make([]models.TrendPoint, 0, len(values))
	for i, v := range values {
		points = append(points, models.TrendPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: v})
	}
	return points
}

func TestMineSuggestsLatencyThresholds(t *testing.T) {
	miner := NewMiner(nil, nil, 0)
	target := models.Target{Type: "service", ID: "gateway-1"}
	// Steady latency around 100-140ms.
	history := map[models.IndicatorType][]models.TrendPoint{
		models.IndicatorLatency: latencyHistory(100, 105, 110, 112, 118, 120, 122, 125, 128, 130, 135, 140),
	}

	mined := miner.Mine(context.Background(), target, history)
	if len(mined) != 1 {
		t.Fatalf("expected one baseline, got %d", len(mined))
	}

	baseline := mined[0]
	if baseline.Indicator != models.IndicatorLatency {
		t.Fatalf("unexpected indicator %s", baseline.Indicator)
	}
	if baseline.SampleCount != 12 {
		t.Fatalf("unexpected sample count %d", baseline.SampleCount)
	}
	if baseline.Median < 100 || baseline.Median > 140 {
		t.Fatalf("median outside observed range: %f", baseline.Median)
	}
	// Healthy bound must clear typical behaviour, degraded bound the tail.
	if baseline.Suggested.Healthy <= baseline.Median {
		t.Fatalf("healthy bound %f should exceed median %f", baseline.Suggested.Healthy, baseline.Median)
	}
	if baseline.Suggested.Degraded <= baseline.Suggested.Healthy {
		t.Fatalf("degraded bound %f should exceed healthy bound %f", baseline.Suggested.Degraded, baseline.Suggested.Healthy)
	}
}

func TestMineHigherIsBetterIndicator(t *testing.T) {
	miner := NewMiner(nil, nil, 0)
	history := map[models.IndicatorType][]models.TrendPoint{
		models.IndicatorThroughput: latencyHistory(50, 52, 55, 48, 51, 53, 49, 54, 50, 52, 51, 53),
	}

	mined := miner.Mine(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, history)
	if len(mined) != 1 {
		t.Fatalf("expected one baseline, got %d", len(mined))
	}
	suggested := mined[0].Suggested
	// For throughput the bounds are minima, ordered the other way around.
	if suggested.Degraded >= suggested.Healthy {
		t.Fatalf("throughput degraded bound %f should sit below healthy bound %f", suggested.Degraded, suggested.Healthy)
	}
}

func TestMineSkipsSparseHistory(t *testing.T) {
	miner := NewMiner(nil, nil, 0)
	history := map[models.IndicatorType][]models.TrendPoint{
		models.IndicatorLatency: latencyHistory(100, 110, 120),
	}

	if mined := miner.Mine(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, history); len(mined) != 0 {
		t.Fatalf("sparse history must not produce baselines, got %d", len(mined))
	}
	if mined := miner.Mine(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, nil); mined != nil {
		t.Fatalf("empty history must return nil")
	}
}

func TestMinePersistsBaselines(t *testing.T) {
	store := kvstore.NewMemory()
	miner := NewMiner(nil, store, time.Hour)
	target := models.Target{Type: "service", ID: "gateway-1"}
	history := map[models.IndicatorType][]models.TrendPoint{
		models.IndicatorLatency: latencyHistory(100, 105, 110, 112, 118, 120, 122, 125, 128, 130, 135, 140),
	}

	miner.Mine(context.Background(), target, history)

	data, err := store.Get(context.Background(), "baseline:"+target.Key())
	if err != nil {
		t.Fatalf("baseline not persisted: %v", err)
	}
	var stored []Baseline
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode stored baselines: %v", err)
	}
	if len(stored) != 1 || stored[0].Indicator != models.IndicatorLatency {
		t.Fatalf("unexpected stored baselines: %+v", stored)
	}
}
