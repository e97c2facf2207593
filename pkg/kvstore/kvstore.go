package kvstore

import (
	"context"
	"errors"
	"time"
)

// Store is the key-value surface the service relies on for hysteresis state
// and short-lived caches. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound signals that a key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Noop stores nothing. Used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (Noop) Del(context.Context, string) error { return nil }

func (Noop) Close() error { return nil }
