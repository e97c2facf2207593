package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDurationMSEncodesMilliseconds(t *testing.T) {
	transition := StateTransition{
		CurrentState:       StateHealthy,
		TimeInCurrentState: DurationMS(time.Minute),
	}

	raw, err := json.Marshal(transition)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"time_in_current_state_ms":60000`) {
		t.Fatalf("expected 60000 ms on the wire, got %s", raw)
	}
	if strings.Contains(string(raw), "60000000000") {
		t.Fatalf("nanoseconds leaked into an _ms field: %s", raw)
	}

	var decoded StateTransition
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TimeInCurrentState.Duration() != time.Minute {
		t.Fatalf("round trip lost the value, got %s", decoded.TimeInCurrentState)
	}
}

func TestDurationMSInPersistedState(t *testing.T) {
	state := HysteresisState{
		CurrentState:       StateDegraded,
		ConsecutiveSamples: 2,
		TimeInCurrentState: DurationMS(90 * time.Second),
	}

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"time_in_current_state_ms":90000`) {
		t.Fatalf("expected 90000 ms on the wire, got %s", raw)
	}

	var decoded HysteresisState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TimeInCurrentState != state.TimeInCurrentState {
		t.Fatalf("round trip lost the value, got %s", decoded.TimeInCurrentState)
	}
}

func TestDurationMSInIndicatorWindow(t *testing.T) {
	indicator := Indicator{
		Type:              IndicatorLatency,
		MeasurementWindow: DurationMS(5 * time.Minute),
	}

	raw, err := json.Marshal(indicator)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"measurement_window_ms":300000`) {
		t.Fatalf("expected 300000 ms on the wire, got %s", raw)
	}
}
