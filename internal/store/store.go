// Package store provides the durable key-value slot used to persist
// lockout escalation and circuit breaker state across restarts.
package store

import "context"

// Store is a minimal key-value interface. A missing key returns
// models.ErrNotFound. Callers that use the store for best-effort state
// treat any error as "no prior state".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
