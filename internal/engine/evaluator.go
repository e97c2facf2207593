package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
)

// Input carries everything one evaluation depends on. The orchestrator is a
// pure function of this input: no I/O, no hidden state, so an evaluation is
// replayable from a recorded Input.
type Input struct {
	Target     models.Target
	Aggregate  models.TelemetryAggregate
	PriorState *models.HysteresisState
	History    map[models.IndicatorType][]models.TrendPoint
	Now        time.Time
}

// Evaluator wires the indicator evaluator, composite aggregator, hysteresis
// filter, confidence model and trend analyzer into one evaluation cycle per
// target.
type Evaluator struct {
	cfg        config.EvaluationConfig
	indicators *IndicatorEvaluator
	composite  *CompositeAggregator
	hysteresis *HysteresisFilter
	confidence *ConfidenceModel
	trends     *TrendAnalyzer
	advisor    *AdvisoryEngine
	logger     *slog.Logger
}

// NewEvaluator constructs the evaluation orchestrator. The advisor may be
// nil, in which case no advisories are attached.
func NewEvaluator(cfg config.EvaluationConfig, advisor *AdvisoryEngine, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	indicators := NewIndicatorEvaluator(cfg.Thresholds)
	return &Evaluator{
		cfg:        cfg,
		indicators: indicators,
		composite:  NewCompositeAggregator(cfg.Weights),
		hysteresis: NewHysteresisFilter(cfg.Hysteresis.SamplesToDegrade, cfg.Hysteresis.SamplesToImprove),
		confidence: NewConfidenceModel(cfg.ExpectedIndicators, cfg.MaxDataAge),
		trends:     NewTrendAnalyzer(cfg.Trend, indicators),
		advisor:    advisor,
		logger:     logger,
	}
}

// Evaluate runs one full cycle for a target and assembles the immutable
// HealthEvaluation record. It returns the updated hysteresis state alongside
// so the caller can persist it.
func (e *Evaluator) Evaluate(in Input) (models.HealthEvaluation, models.HysteresisState) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	indicators := e.indicators.Derive(in.Aggregate)
	computed, score := e.composite.Aggregate(indicators)
	newState, transition := e.hysteresis.Apply(in.PriorState, computed, now, e.cfg.Interval)
	confidence := e.confidence.Score(indicators, in.Aggregate.RequestCount, in.Aggregate.WindowEnd, now)

	trendAnalyses := e.analyzeTrends(in.History)
	overallTrend := e.overallTrend(trendAnalyses, transition)

	e.logger.Debug("target evaluated",
		slog.String("target", in.Target.Key()),
		slog.String("computed_state", string(computed)),
		slog.String("current_state", string(transition.CurrentState)),
		slog.Float64("score", score),
		slog.Float64("confidence", confidence.Overall),
		slog.Bool("transitioned", transition.Occurred()),
	)

	evaluation := models.HealthEvaluation{
		EvaluationID:      uuid.NewString(),
		EvaluatedAt:       now,
		Target:            in.Target,
		OverallState:      transition.CurrentState,
		OverallTrend:      overallTrend,
		OverallConfidence: confidence.Overall,
		StateTransition:   transition,
		Indicators:        indicators,
		Trends:            trendAnalyses,
		Statistics:        buildStatistics(in.Aggregate),
		EvaluationWindow: models.EvaluationWindow{
			Start:       in.Aggregate.WindowStart,
			End:         in.Aggregate.WindowEnd,
			Granularity: e.cfg.Interval.String(),
		},
		SchemaVersion: models.SchemaVersion,
	}

	if e.advisor != nil {
		evaluation.Advisories = e.advisor.Advise(indicators, evaluation.OverallState)
	}

	return evaluation, newState
}

func (e *Evaluator) analyzeTrends(history map[models.IndicatorType][]models.TrendPoint) []models.TrendAnalysis {
	if len(history) == 0 {
		return nil
	}
	analyses := make([]models.TrendAnalysis, 0, len(history))
	for _, it := range models.IndicatorTypes {
		points, ok := history[it]
		if !ok {
			continue
		}
		if analysis := e.trends.Analyze(it, points, true); analysis != nil {
			analyses = append(analyses, *analysis)
		}
	}
	if len(analyses) == 0 {
		return nil
	}
	return analyses
}

// overallTrend prefers the regression-backed aggregate; absent any usable
// history it falls back to a best-effort inference from the hysteresis
// delta alone, which carries no confidence of its own.
func (e *Evaluator) overallTrend(trends []models.TrendAnalysis, transition models.StateTransition) models.Trend {
	if len(trends) > 0 {
		return e.trends.AggregateTrend(trends)
	}
	if transition.Occurred() && transition.PreviousState != nil {
		if transition.CurrentState.WorseThan(*transition.PreviousState) {
			return models.TrendDegrading
		}
		return models.TrendImproving
	}
	return models.TrendStable
}

func buildStatistics(agg models.TelemetryAggregate) models.Statistics {
	errorRate := agg.ErrorRatePct()
	return models.Statistics{
		TotalRequests:   agg.RequestCount,
		TotalErrors:     agg.ErrorCount,
		AvgLatencyMS:    agg.LatencyAvgMS,
		ErrorRatePct:    errorRate,
		AvailabilityPct: 100 - errorRate,
		SampleSize:      agg.RequestCount,
	}
}
