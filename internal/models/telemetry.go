package models

import "time"

// TelemetryAggregate is the immutable per-target input produced by the
// external collector: one window of request/error counters and latency
// statistics. Percentiles and saturation are optional; the evaluator falls
// back or omits rather than failing when they are absent.
type TelemetryAggregate struct {
	TargetID      string    `json:"target_id"`
	TargetType    string    `json:"target_type"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	RequestCount  int64     `json:"request_count"`
	ErrorCount    int64     `json:"error_count"`
	LatencyAvgMS  float64   `json:"latency_avg_ms"`
	LatencyP50MS  *float64  `json:"latency_p50_ms,omitempty"`
	LatencyP90MS  *float64  `json:"latency_p90_ms,omitempty"`
	LatencyP95MS  *float64  `json:"latency_p95_ms,omitempty"`
	LatencyP99MS  *float64  `json:"latency_p99_ms,omitempty"`
	SaturationPct *float64  `json:"saturation_pct,omitempty"`
}

// WindowDuration returns the aggregate window length.
func (a TelemetryAggregate) WindowDuration() time.Duration {
	if a.WindowEnd.Before(a.WindowStart) {
		return 0
	}
	return a.WindowEnd.Sub(a.WindowStart)
}

// ErrorRatePct computes errors/requests as a percentage, 0 when idle.
func (a TelemetryAggregate) ErrorRatePct() float64 {
	if a.RequestCount == 0 {
		return 0
	}
	return float64(a.ErrorCount) / float64(a.RequestCount) * 100
}

// HysteresisState is the mutable per-target record persisted between
// evaluations. It is loaded before and written back after every cycle;
// the store owns serialization per target key.
type HysteresisState struct {
	CurrentState       HealthState  `json:"current_state"`
	PendingState       *HealthState `json:"pending_state,omitempty"`
	ConsecutiveSamples int          `json:"consecutive_samples"`
	LastTransitionTime *time.Time   `json:"last_transition_time,omitempty"`
	TimeInCurrentState DurationMS   `json:"time_in_current_state_ms"`
}
