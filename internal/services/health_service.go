package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/observastack/health-sentinel/internal/baselines"
	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/engine"
	"github.com/observastack/health-sentinel/internal/metrics"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/repo"
	"github.com/observastack/health-sentinel/internal/utils"
)

// TelemetrySource provides aggregates and indicator history for evaluation.
type TelemetrySource interface {
	FetchAggregate(ctx context.Context, target models.Target, window models.TimeRange) (models.TelemetryAggregate, error)
	FetchIndicatorHistory(ctx context.Context, target models.Target, start, end time.Time) (map[models.IndicatorType][]models.TrendPoint, error)
}

// HealthService orchestrates one evaluation cycle per target: fetch inputs,
// run the engine, persist state and the audit record. Evaluations for the
// same target are serialized so concurrent requests cannot race on the
// hysteresis state.
type HealthService struct {
	logger    *slog.Logger
	telemetry TelemetrySource
	audit     repo.AuditStore
	states    repo.StateStore
	evaluator *engine.Evaluator
	miner     *baselines.Miner
	cfg       config.EvaluationConfig
	latencies *utils.LatencyTracker

	locksMu sync.Mutex
	locks   map[string]*targetLock
}

// targetLock serializes evaluations of one target. Entries are reference
// counted and removed from the map once the last holder releases, so the
// map stays proportional to in-flight evaluations rather than to every
// target key ever seen.
type targetLock struct {
	mu   sync.Mutex
	refs int
}

// NewHealthService constructs the evaluation service facade. The miner may
// be nil, which disables baseline suggestions.
func NewHealthService(logger *slog.Logger, telemetry TelemetrySource, audit repo.AuditStore, states repo.StateStore, evaluator *engine.Evaluator, miner *baselines.Miner, cfg config.EvaluationConfig) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		logger:    logger,
		telemetry: telemetry,
		audit:     audit,
		states:    states,
		evaluator: evaluator,
		miner:     miner,
		cfg:       cfg,
		latencies: utils.NewLatencyTracker(1024),
		locks:     make(map[string]*targetLock),
	}
}

// EvaluateTarget runs one evaluation cycle for a single target.
func (s *HealthService) EvaluateTarget(ctx context.Context, req models.EvaluationRequest) (models.HealthEvaluation, error) {
	const op = "service.evaluate"

	if req.Target.Type == "" || req.Target.ID == "" {
		return models.HealthEvaluation{}, utils.E(utils.KindInvalid, op, "target type and id are required", nil)
	}

	unlock := s.lockTarget(req.Target)
	defer unlock()

	start := time.Now()
	evaluation, err := s.evaluateLocked(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveEvaluation(duration, metrics.OutcomeError)
		return models.HealthEvaluation{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveEvaluation(duration, metrics.OutcomeSuccess)
	if evaluation.StateTransition.Occurred() && evaluation.StateTransition.PreviousState != nil {
		direction := metrics.DirectionImproved
		if evaluation.OverallState.WorseThan(*evaluation.StateTransition.PreviousState) {
			direction = metrics.DirectionDegraded
		}
		metrics.ObserveTransition(direction)
	}
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("evaluation latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return evaluation, nil
}

func (s *HealthService) evaluateLocked(ctx context.Context, req models.EvaluationRequest) (models.HealthEvaluation, error) {
	now := time.Now().UTC()
	window := resolveWindow(req.Window, now, s.cfg.Interval)

	aggregate, err := s.resolveAggregate(ctx, req, window)
	if err != nil {
		return models.HealthEvaluation{}, err
	}

	prior, err := s.states.LoadState(ctx, req.Target)
	if err != nil {
		return models.HealthEvaluation{}, err
	}

	var history map[models.IndicatorType][]models.TrendPoint
	if req.IncludeTrends {
		history, err = s.telemetry.FetchIndicatorHistory(ctx, req.Target, window.End.Add(-s.cfg.TrendLookback), window.End)
		if err != nil {
			// A missing history degrades the evaluation to a transition-based
			// trend instead of failing the whole verdict.
			s.logger.Warn("indicator history unavailable",
				slog.String("target", req.Target.Key()),
				slog.Any("error", err),
			)
			history = nil
		}
	}

	evaluation, newState := s.evaluator.Evaluate(engine.Input{
		Target:     req.Target,
		Aggregate:  aggregate,
		PriorState: prior,
		History:    history,
		Now:        now,
	})

	if err := s.states.SaveState(ctx, req.Target, newState); err != nil {
		return models.HealthEvaluation{}, err
	}

	if s.audit != nil {
		if err := s.audit.StoreEvaluation(ctx, evaluation); err != nil {
			// The verdict stands even when the audit trail write fails.
			s.logger.Warn("audit store rejected evaluation",
				slog.String("target", req.Target.Key()),
				slog.String("evaluation_id", evaluation.EvaluationID),
				slog.Any("error", err),
			)
		}
	}
	return evaluation, nil
}

// EvaluateBatch evaluates independent targets concurrently. Per-target
// failures are reported alongside successful evaluations rather than failing
// the batch.
func (s *HealthService) EvaluateBatch(ctx context.Context, req models.BatchEvaluationRequest) (models.BatchEvaluationResponse, error) {
	const op = "service.evaluate_batch"

	if len(req.Targets) == 0 {
		return models.BatchEvaluationResponse{}, utils.E(utils.KindInvalid, op, "at least one target is required", nil)
	}

	var (
		mu          sync.Mutex
		evaluations []models.HealthEvaluation
		failures    []models.TargetFailure
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.BatchConcurrency)
	for _, target := range req.Targets {
		target := target
		group.Go(func() error {
			evaluation, err := s.EvaluateTarget(groupCtx, models.EvaluationRequest{
				Target:        target,
				Window:        req.Window,
				IncludeTrends: req.IncludeTrends,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, models.TargetFailure{Target: target, Error: err.Error()})
				return nil
			}
			evaluations = append(evaluations, evaluation)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return models.BatchEvaluationResponse{}, err
	}
	return models.BatchEvaluationResponse{Evaluations: evaluations, Failures: failures}, nil
}

// CurrentState returns the persisted hysteresis state for a target.
func (s *HealthService) CurrentState(ctx context.Context, target models.Target) (*models.HysteresisState, error) {
	const op = "service.current_state"

	if target.Type == "" || target.ID == "" {
		return nil, utils.E(utils.KindInvalid, op, "target type and id are required", nil)
	}
	state, err := s.states.LoadState(ctx, target)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, utils.E(utils.KindNotFound, op, "no recorded state for "+target.Key(), nil)
	}
	return state, nil
}

// ListEvaluations returns historical audit records matching the filters.
func (s *HealthService) ListEvaluations(ctx context.Context, req models.ListEvaluationsRequest) (models.ListEvaluationsResponse, error) {
	const op = "service.list_evaluations"

	if s.audit == nil {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindUpstream, op, "audit store not configured", nil)
	}
	return s.audit.ListEvaluations(ctx, req)
}

// SuggestBaselines mines per-indicator baselines from the target's recent
// history and derives threshold suggestions from them.
func (s *HealthService) SuggestBaselines(ctx context.Context, target models.Target) ([]baselines.Baseline, error) {
	const op = "service.suggest_baselines"

	if target.Type == "" || target.ID == "" {
		return nil, utils.E(utils.KindInvalid, op, "target type and id are required", nil)
	}
	if s.miner == nil {
		return nil, utils.E(utils.KindInvalid, op, "baseline mining is not enabled", nil)
	}

	end := time.Now().UTC()
	history, err := s.telemetry.FetchIndicatorHistory(ctx, target, end.Add(-s.cfg.TrendLookback), end)
	if err != nil {
		return nil, err
	}
	return s.miner.Mine(ctx, target, history), nil
}

func (s *HealthService) resolveAggregate(ctx context.Context, req models.EvaluationRequest, window models.TimeRange) (models.TelemetryAggregate, error) {
	if req.Aggregate != nil {
		agg := *req.Aggregate
		if agg.TargetID == "" {
			agg.TargetID = req.Target.ID
			agg.TargetType = req.Target.Type
		}
		if agg.WindowStart.IsZero() || agg.WindowEnd.IsZero() {
			agg.WindowStart = window.Start
			agg.WindowEnd = window.End
		}
		return agg, nil
	}
	return s.telemetry.FetchAggregate(ctx, req.Target, window)
}

func (s *HealthService) lockTarget(target models.Target) func() {
	key := target.Key()
	s.locksMu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &targetLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

func resolveWindow(window models.TimeRange, now time.Time, interval time.Duration) models.TimeRange {
	if window.End.IsZero() {
		window.End = now
	}
	if window.Start.IsZero() || !window.Start.Before(window.End) {
		window.Start = window.End.Add(-interval)
	}
	return window
}
