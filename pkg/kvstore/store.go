// pkg/kvstore/store.go
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no value exists for a key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal TTL-aware key-value interface shared by the dedup
// ledger, revocation marks, and provisioning state. A ttl of zero means
// the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent stores value only when key has no live entry and reports
	// whether the write won.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns all live entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
