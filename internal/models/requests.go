package models

import "time"

// EvaluationRequest asks for one target to be evaluated. When Aggregate is
// supplied inline the telemetry store is not consulted, which makes
// evaluations replayable from recorded inputs.
type EvaluationRequest struct {
	Target        Target              `json:"target"`
	Window        TimeRange           `json:"window"`
	Aggregate     *TelemetryAggregate `json:"aggregate,omitempty"`
	IncludeTrends bool                `json:"include_trends"`
}

// BatchEvaluationRequest evaluates several independent targets in one call.
type BatchEvaluationRequest struct {
	Targets       []Target  `json:"targets"`
	Window        TimeRange `json:"window"`
	IncludeTrends bool      `json:"include_trends"`
}

// BatchEvaluationResponse pairs per-target results with per-target failures.
type BatchEvaluationResponse struct {
	Evaluations []HealthEvaluation `json:"evaluations"`
	Failures    []TargetFailure    `json:"failures,omitempty"`
}

// TargetFailure records a target that could not be evaluated in a batch.
type TargetFailure struct {
	Target Target `json:"target"`
	Error  string `json:"error"`
}

// TimeRange bounds the telemetry window for an evaluation.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ListEvaluationsRequest captures filters for historical audit records.
type ListEvaluationsRequest struct {
	TargetType string
	TargetID   string
	Start      time.Time
	End        time.Time
	PageSize   int
	PageToken  string
}

// ListEvaluationsResponse contains audit records and pagination state.
type ListEvaluationsResponse struct {
	Evaluations   []HealthEvaluation `json:"evaluations"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}
