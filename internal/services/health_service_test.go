package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/observastack/health-sentinel/internal/baselines"
	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/engine"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/repo"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

type stubTelemetry struct {
	aggregates map[string]models.TelemetryAggregate
	history    map[models.IndicatorType][]models.TrendPoint
	historyErr error
	fetches    int
}

func (s *stubTelemetry) FetchAggregate(_ context.Context, target models.Target, window models.TimeRange) (models.TelemetryAggregate, error) {
	s.fetches++
	agg, ok := s.aggregates[target.Key()]
	if !ok {
		return models.TelemetryAggregate{}, utils.E(utils.KindUpstream, "telemetry.fetch_aggregate", "no data for "+target.Key(), nil)
	}
	agg.TargetID = target.ID
	agg.TargetType = target.Type
	agg.WindowStart = window.Start
	agg.WindowEnd = window.End
	return agg, nil
}

func (s *stubTelemetry) FetchIndicatorHistory(context.Context, models.Target, time.Time, time.Time) (map[models.IndicatorType][]models.TrendPoint, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

func healthyAggregate() models.TelemetryAggregate {
	p95 := 250.0
	return models.TelemetryAggregate{
		RequestCount: 2000,
		ErrorCount:   4,
		LatencyAvgMS: 120,
		LatencyP95MS: &p95,
	}
}

func newTestService(t *testing.T, telemetry *stubTelemetry) (*HealthService, *repo.MemoryAuditStore) {
	t.Helper()
	cfg := config.Default().Evaluation
	audit := repo.NewMemoryAuditStore(64)
	states := repo.NewKVStateStore(kvstore.NewMemory(), 0)
	evaluator := engine.NewEvaluator(cfg, nil, nil)
	miner := baselines.NewMiner(nil, kvstore.NewMemory(), time.Hour)
	return NewHealthService(nil, telemetry, audit, states, evaluator, miner, cfg), audit
}

func TestEvaluateTargetValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubTelemetry{})

	_, err := svc.EvaluateTarget(context.Background(), models.EvaluationRequest{})
	if err == nil || utils.KindOf(err) != utils.KindInvalid {
		t.Fatalf("expected invalid-kind error, got %v", err)
	}
}

func TestEvaluateTargetFetchesTelemetry(t *testing.T) {
	target := models.Target{Type: "service", ID: "gateway-1"}
	telemetry := &stubTelemetry{aggregates: map[string]models.TelemetryAggregate{
		target.Key(): healthyAggregate(),
	}}
	svc, audit := newTestService(t, telemetry)

	evaluation, err := svc.EvaluateTarget(context.Background(), models.EvaluationRequest{Target: target})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evaluation.OverallState != models.StateHealthy {
		t.Fatalf("expected healthy verdict, got %s", evaluation.OverallState)
	}
	if telemetry.fetches != 1 {
		t.Fatalf("expected one telemetry fetch, got %d", telemetry.fetches)
	}

	// The verdict must land in the audit trail.
	listed, err := audit.ListEvaluations(context.Background(), models.ListEvaluationsRequest{TargetID: target.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed.Evaluations) != 1 || listed.Evaluations[0].EvaluationID != evaluation.EvaluationID {
		t.Fatalf("evaluation not audited: %+v", listed)
	}
}

func TestEvaluateTargetInlineAggregateSkipsTelemetry(t *testing.T) {
	telemetry := &stubTelemetry{}
	svc, _ := newTestService(t, telemetry)

	agg := healthyAggregate()
	evaluation, err := svc.EvaluateTarget(context.Background(), models.EvaluationRequest{
		Target:    models.Target{Type: "service", ID: "gateway-1"},
		Aggregate: &agg,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if telemetry.fetches != 0 {
		t.Fatalf("inline aggregate must not hit the telemetry store")
	}
	if evaluation.Statistics.TotalRequests != 2000 {
		t.Fatalf("inline aggregate not used: %+v", evaluation.Statistics)
	}
}

func TestEvaluateTargetPersistsHysteresisAcrossCalls(t *testing.T) {
	target := models.Target{Type: "service", ID: "gateway-1"}
	svc, _ := newTestService(t, &stubTelemetry{})
	ctx := context.Background()

	unhealthy := models.TelemetryAggregate{RequestCount: 500, ErrorCount: 50, LatencyAvgMS: 300}

	first, err := svc.EvaluateTarget(ctx, models.EvaluationRequest{Target: target, Aggregate: &unhealthy})
	if err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
	if first.OverallState == models.StateHealthy {
		t.Fatalf("10%% errors should not be healthy")
	}

	// A single healthy sample must not flip the state back: improvement
	// needs three consecutive samples.
	healthy := healthyAggregate()
	second, err := svc.EvaluateTarget(ctx, models.EvaluationRequest{Target: target, Aggregate: &healthy})
	if err != nil {
		t.Fatalf("second evaluation: %v", err)
	}
	if second.OverallState != first.OverallState {
		t.Fatalf("one good sample flipped the state from %s to %s", first.OverallState, second.OverallState)
	}

	state, err := svc.CurrentState(ctx, target)
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	if state.PendingState == nil || *state.PendingState != models.StateHealthy {
		t.Fatalf("expected pending improvement, got %+v", state)
	}
}

func TestEvaluateTargetHistoryFailureDegrades(t *testing.T) {
	svc, _ := newTestService(t, &stubTelemetry{historyErr: errors.New("history store down")})

	agg := healthyAggregate()
	evaluation, err := svc.EvaluateTarget(context.Background(), models.EvaluationRequest{
		Target:        models.Target{Type: "service", ID: "gateway-1"},
		Aggregate:     &agg,
		IncludeTrends: true,
	})
	if err != nil {
		t.Fatalf("history failure must not fail the evaluation: %v", err)
	}
	if len(evaluation.Trends) != 0 {
		t.Fatalf("expected no trends without history, got %+v", evaluation.Trends)
	}
}

func TestEvaluateBatchPartialFailure(t *testing.T) {
	good := models.Target{Type: "service", ID: "gateway-1"}
	bad := models.Target{Type: "service", ID: "missing"}
	telemetry := &stubTelemetry{aggregates: map[string]models.TelemetryAggregate{
		good.Key(): healthyAggregate(),
	}}
	svc, _ := newTestService(t, telemetry)

	resp, err := svc.EvaluateBatch(context.Background(), models.BatchEvaluationRequest{Targets: []models.Target{good, bad}})
	if err != nil {
		t.Fatalf("batch must not fail on per-target errors: %v", err)
	}
	if len(resp.Evaluations) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(resp.Evaluations))
	}
	if len(resp.Failures) != 1 || resp.Failures[0].Target.ID != "missing" {
		t.Fatalf("expected one failure for missing target, got %+v", resp.Failures)
	}
}

func TestTargetLocksReleasedAfterEvaluation(t *testing.T) {
	target := models.Target{Type: "service", ID: "gateway-1"}
	telemetry := &stubTelemetry{aggregates: map[string]models.TelemetryAggregate{
		target.Key(): healthyAggregate(),
	}}
	svc, _ := newTestService(t, telemetry)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.EvaluateTarget(context.Background(), models.EvaluationRequest{Target: target}); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	wg.Wait()

	svc.locksMu.Lock()
	retained := len(svc.locks)
	svc.locksMu.Unlock()
	if retained != 0 {
		t.Fatalf("expected lock map drained after evaluations, got %d entries", retained)
	}
	if telemetry.fetches != 8 {
		t.Fatalf("expected 8 serialized fetches, got %d", telemetry.fetches)
	}
}

func TestEvaluateBatchRequiresTargets(t *testing.T) {
	svc, _ := newTestService(t, &stubTelemetry{})
	_, err := svc.EvaluateBatch(context.Background(), models.BatchEvaluationRequest{})
	if err == nil || utils.KindOf(err) != utils.KindInvalid {
		t.Fatalf("expected invalid-kind error, got %v", err)
	}
}

func TestSuggestBaselines(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	points := make([]models.TrendPoint, 0, 12)
	for i := 0; i < 12; i++ {
		points = append(points, models.TrendPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: 100 + float64(i)*3})
	}
	telemetry := &stubTelemetry{history: map[models.IndicatorType][]models.TrendPoint{
		models.IndicatorLatency: points,
	}}
	svc, _ := newTestService(t, telemetry)

	mined, err := svc.SuggestBaselines(context.Background(), models.Target{Type: "service", ID: "gateway-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mined) != 1 || mined[0].Indicator != models.IndicatorLatency {
		t.Fatalf("unexpected baselines: %+v", mined)
	}

	if _, err := svc.SuggestBaselines(context.Background(), models.Target{}); err == nil || utils.KindOf(err) != utils.KindInvalid {
		t.Fatalf("missing target must be rejected, got %v", err)
	}
}

func TestCurrentStateUnknownTarget(t *testing.T) {
	svc, _ := newTestService(t, &stubTelemetry{})
	_, err := svc.CurrentState(context.Background(), models.Target{Type: "service", ID: "never-seen"})
	if err == nil || utils.KindOf(err) != utils.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
