package engine

import (
	"time"

	"github.com/observastack/health-sentinel/internal/models"
)

// HysteresisFilter debounces state changes so a single noisy sample cannot
// flap the persisted verdict. Thresholds are asymmetric: degradation is
// declared fast, recovery only after several consecutive clean samples.
type HysteresisFilter struct {
	samplesToDegrade int
	samplesToImprove int
}

// NewHysteresisFilter constructs a filter; non-positive thresholds fall back
// to the defaults (degrade after 1, improve after 3).
func NewHysteresisFilter(samplesToDegrade, samplesToImprove int) *HysteresisFilter {
	if samplesToDegrade < 1 {
		samplesToDegrade = 1
	}
	if samplesToImprove < 1 {
		samplesToImprove = 3
	}
	return &HysteresisFilter{
		samplesToDegrade: samplesToDegrade,
		samplesToImprove: samplesToImprove,
	}
}

// Apply folds the freshly computed state into the prior per-target record and
// returns the updated record plus the transition snapshot for this cycle.
// A nil prior means the target has never been evaluated: it adopts the
// computed state without recording a transition.
func (f *HysteresisFilter) Apply(prior *models.HysteresisState, computed models.HealthState, now time.Time, interval time.Duration) (models.HysteresisState, models.StateTransition) {
	maxThreshold := f.samplesToDegrade
	if f.samplesToImprove > maxThreshold {
		maxThreshold = f.samplesToImprove
	}

	if prior == nil {
		state := models.HysteresisState{
			CurrentState:       computed,
			ConsecutiveSamples: 1,
		}
		return state, models.StateTransition{
			CurrentState:              computed,
			ConsecutiveSamplesInState: 1,
			HysteresisThreshold:       maxThreshold,
		}
	}

	previous := prior.CurrentState

	if computed == prior.CurrentState {
		// Agreement with the persisted state clears any pending direction.
		state := models.HysteresisState{
			CurrentState:       prior.CurrentState,
			ConsecutiveSamples: 1,
			LastTransitionTime: prior.LastTransitionTime,
			TimeInCurrentState: prior.TimeInCurrentState + models.DurationMS(interval),
		}
		return state, models.StateTransition{
			PreviousState:             &previous,
			CurrentState:              state.CurrentState,
			TimeInCurrentState:        state.TimeInCurrentState,
			ConsecutiveSamplesInState: 1,
			HysteresisThreshold:       maxThreshold,
		}
	}

	count := 1
	if prior.PendingState != nil && *prior.PendingState == computed {
		count = prior.ConsecutiveSamples + 1
	}

	threshold := f.samplesToImprove
	if computed.WorseThan(prior.CurrentState) {
		threshold = f.samplesToDegrade
	}

	if count >= threshold {
		transitionTime := now
		state := models.HysteresisState{
			CurrentState:       computed,
			ConsecutiveSamples: 1,
			LastTransitionTime: &transitionTime,
			TimeInCurrentState: 0,
		}
		return state, models.StateTransition{
			PreviousState:             &previous,
			CurrentState:              computed,
			TransitionTime:            &transitionTime,
			TimeInCurrentState:        0,
			ConsecutiveSamplesInState: 1,
			HysteresisThreshold:       maxThreshold,
		}
	}

	pending := computed
	state := models.HysteresisState{
		CurrentState:       prior.CurrentState,
		PendingState:       &pending,
		ConsecutiveSamples: count,
		LastTransitionTime: prior.LastTransitionTime,
		TimeInCurrentState: prior.TimeInCurrentState + models.DurationMS(interval),
	}
	return state, models.StateTransition{
		PreviousState:             &previous,
		CurrentState:              state.CurrentState,
		TimeInCurrentState:        state.TimeInCurrentState,
		ConsecutiveSamplesInState: count,
		HysteresisThreshold:       maxThreshold,
	}
}
