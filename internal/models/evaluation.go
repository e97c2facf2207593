package models

import "time"

// SchemaVersion identifies the HealthEvaluation wire schema.
const SchemaVersion = "v1"

// HealthState is the discrete health verdict for an indicator or a target.
// States form a total order: healthy < degraded < unhealthy.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateUnhealthy HealthState = "unhealthy"
)

// Rank maps the state onto its position in the severity order.
func (s HealthState) Rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	case StateUnhealthy:
		return 2
	}
	return 0
}

// WorseThan reports whether s is a worse verdict than other.
func (s HealthState) WorseThan(other HealthState) bool {
	return s.Rank() > other.Rank()
}

// IndicatorType enumerates the measured health signals.
type IndicatorType string

const (
	IndicatorLatency      IndicatorType = "latency"
	IndicatorErrorRate    IndicatorType = "error_rate"
	IndicatorThroughput   IndicatorType = "throughput"
	IndicatorSaturation   IndicatorType = "saturation"
	IndicatorAvailability IndicatorType = "availability"
)

// IndicatorTypes lists every evaluated indicator in importance order.
var IndicatorTypes = []IndicatorType{
	IndicatorErrorRate,
	IndicatorAvailability,
	IndicatorLatency,
	IndicatorThroughput,
	IndicatorSaturation,
}

// HigherIsBetter reports the polarity of the indicator: true when larger
// values are healthier (throughput, availability).
func (t IndicatorType) HigherIsBetter() bool {
	switch t {
	case IndicatorThroughput, IndicatorAvailability:
		return true
	case IndicatorLatency, IndicatorErrorRate, IndicatorSaturation:
		return false
	}
	return false
}

// Trend classifies the direction of change of an indicator over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
	TrendVolatile  Trend = "volatile"
)

// Target identifies the evaluated entity.
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Key returns the persistence key for per-target state.
func (t Target) Key() string {
	return t.Type + "/" + t.ID
}

// Indicator is one evaluated health signal with its own state and confidence.
type Indicator struct {
	Type              IndicatorType `json:"type"`
	CurrentValue      float64       `json:"current_value"`
	Unit              string        `json:"unit"`
	State             HealthState   `json:"state"`
	StateReason       string        `json:"state_reason"`
	SampleSize        int64         `json:"sample_size"`
	Confidence        float64       `json:"confidence"`
	MeasurementWindow DurationMS    `json:"measurement_window_ms"`
}

// StateTransition is the immutable snapshot of one hysteresis decision.
type StateTransition struct {
	PreviousState             *HealthState `json:"previous_state,omitempty"`
	CurrentState              HealthState  `json:"current_state"`
	TransitionTime            *time.Time   `json:"transition_time,omitempty"`
	TimeInCurrentState        DurationMS   `json:"time_in_current_state_ms"`
	ConsecutiveSamplesInState int          `json:"consecutive_samples_in_state"`
	HysteresisThreshold       int          `json:"hysteresis_threshold"`
}

// Occurred reports whether this evaluation actually changed the persisted state.
func (t StateTransition) Occurred() bool {
	return t.TransitionTime != nil
}

// ConfidenceFactors are the five independent inputs to the overall confidence.
type ConfidenceFactors struct {
	SampleSize         float64 `json:"sample_size"`
	IndicatorCoverage  float64 `json:"indicator_coverage"`
	IndicatorAgreement float64 `json:"indicator_agreement"`
	DataFreshness      float64 `json:"data_freshness"`
	IndicatorQuality   float64 `json:"indicator_quality"`
}

// ConfidenceResult combines the factor breakdown with the weighted overall score.
type ConfidenceResult struct {
	Overall float64           `json:"overall"`
	Factors ConfidenceFactors `json:"factors"`
}

// TrendPoint is one historical sample consumed by the trend analyzer.
type TrendPoint struct {
	Timestamp time.Time   `json:"timestamp"`
	Value     float64     `json:"value"`
	State     HealthState `json:"state,omitempty"`
}

// TrendAnalysis captures a least-squares trend fit for one indicator.
type TrendAnalysis struct {
	IndicatorType      IndicatorType `json:"indicator_type"`
	Trend              Trend         `json:"trend"`
	Slope              float64       `json:"slope"`
	RSquared           float64       `json:"r_squared"`
	ChangePercentage   float64       `json:"change_percentage"`
	DataPoints         []TrendPoint  `json:"data_points,omitempty"`
	PredictedStateIn1H *HealthState  `json:"predicted_state_in_1h,omitempty"`
	Confidence         float64       `json:"confidence"`
}

// Statistics summarises the aggregate the evaluation was computed from.
type Statistics struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	ErrorRatePct    float64 `json:"error_rate_pct"`
	AvailabilityPct float64 `json:"availability_pct"`
	SampleSize      int64   `json:"sample_size"`
}

// EvaluationWindow records the telemetry window the verdict covers.
type EvaluationWindow struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity"`
}

// HealthEvaluation is the terminal audit artifact for one (target, cycle).
// It is immutable once assembled.
type HealthEvaluation struct {
	EvaluationID      string           `json:"evaluation_id"`
	EvaluatedAt       time.Time        `json:"evaluated_at"`
	Target            Target           `json:"target"`
	OverallState      HealthState      `json:"overall_state"`
	OverallTrend      Trend            `json:"overall_trend"`
	OverallConfidence float64          `json:"overall_confidence"`
	StateTransition   StateTransition  `json:"state_transition"`
	Indicators        []Indicator      `json:"indicators"`
	Trends            []TrendAnalysis  `json:"trends,omitempty"`
	Advisories        []string         `json:"advisories,omitempty"`
	Statistics        Statistics       `json:"statistics"`
	EvaluationWindow  EvaluationWindow `json:"evaluation_window"`
	SchemaVersion     string           `json:"schema_version"`
}
