package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

// StateStore persists per-target hysteresis state between evaluation cycles.
type StateStore interface {
	LoadState(ctx context.Context, target models.Target) (*models.HysteresisState, error)
	SaveState(ctx context.Context, target models.Target, state models.HysteresisState) error
}

// KVStateStore keeps hysteresis state in a kvstore.Store as JSON. State that
// has not been refreshed within the TTL expires, so a long-dead target starts
// from scratch instead of resuming a stale streak.
type KVStateStore struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewKVStateStore wraps a kvstore.Store. A zero TTL keeps state forever.
func NewKVStateStore(store kvstore.Store, ttl time.Duration) *KVStateStore {
	return &KVStateStore{store: store, ttl: ttl}
}

// LoadState returns the stored state for a target, or nil when the target
// has never been evaluated.
func (s *KVStateStore) LoadState(ctx context.Context, target models.Target) (*models.HysteresisState, error) {
	const op = "state.load"

	data, err := s.store.Get(ctx, stateKey(target))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, utils.E(utils.KindUpstream, op, "read state for "+target.Key(), err)
	}

	var state models.HysteresisState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt state is treated as absent; the next cycle rebuilds it.
		return nil, nil
	}
	return &state, nil
}

// SaveState persists the state produced by an evaluation cycle.
func (s *KVStateStore) SaveState(ctx context.Context, target models.Target, state models.HysteresisState) error {
	const op = "state.save"

	data, err := json.Marshal(state)
	if err != nil {
		return utils.E(utils.KindInternal, op, "marshal state", err)
	}
	if err := s.store.Set(ctx, stateKey(target), data, s.ttl); err != nil {
		return utils.E(utils.KindUpstream, op, "write state for "+target.Key(), err)
	}
	return nil
}

func stateKey(target models.Target) string {
	return "state:" + target.Key()
}
