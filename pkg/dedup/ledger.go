// pkg/dedup/ledger.go
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"matchday/pkg/kvstore"
	"matchday/pkg/problems"
)

const keyPrefix = "dedup:"

// Record is a finalized response stored under an idempotency key.
// Immutable once committed.
type Record struct {
	Status    int             `json:"status"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ledger replays a prior response for a repeated idempotency key instead of
// re-executing side effects. Dedup is opt-in: callers without a key never
// touch the ledger.
//
// Begin and Commit are not atomic as a pair. Two requests sharing a key can
// both miss before either commits and both execute side effects; the second
// Commit simply overwrites the first record. Strengthening this to strict
// at-most-once would need a set-if-absent reservation before the side
// effect, which changes failure modes for callers and is left out here.
type Ledger struct {
	store kvstore.Store
	ttl   time.Duration
}

func NewLedger(store kvstore.Store, ttl time.Duration) *Ledger {
	return &Ledger{store: store, ttl: ttl}
}

// Begin looks up a finalized record for key. A nil record means the caller
// should execute the request and Commit the outcome. Unlike the revocation
// check this fails closed: with the store unreadable we cannot rule out a
// prior execution, so the request is refused rather than risking a
// duplicate side effect.
func (l *Ledger) Begin(ctx context.Context, key string) (*Record, error) {
	raw, err := l.store.Get(ctx, keyPrefix+key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, problems.Transient("idempotency ledger unavailable", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt record cannot be replayed; treat as a miss.
		return nil, nil
	}
	return &rec, nil
}

// Commit finalizes the response for key. Callers that already performed the
// side effect should log a Commit failure and return the response anyway.
func (l *Ledger) Commit(ctx context.Context, key string, status int, body []byte) error {
	rec := Record{Status: status, Body: body, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, keyPrefix+key, raw, l.ttl)
}
