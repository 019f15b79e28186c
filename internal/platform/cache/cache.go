// Package cache provides the TTL key/value store used for notification
// de-duplication, with in-memory and redis backends.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key/value store. Get reports a miss with ok=false and a nil
// error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
