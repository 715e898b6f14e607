// pkg/revocation/ledger.go
package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"matchday/pkg/kvstore"
)

// Level is the granularity of a revocation mark.
type Level string

const (
	LevelToken     Level = "token"
	LevelPrincipal Level = "principal"
	LevelTenant    Level = "tenant"
)

const (
	tokenPrefix     = "revoke:token:"
	principalPrefix = "revoke:principal:"
	tenantPrefix    = "revoke:tenant:"
)

// Entry is a stored revocation fact.
type Entry struct {
	Level     Level     `json:"level"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	JTI       string    `json:"jti,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RevokedBy string    `json:"revoked_by,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Ledger records revocations and answers the is-revoked question for the
// authorization gate. Entries carry a TTL bounded by the maximum credential
// lifetime, so the ledger self-prunes: once every credential that predates
// a mark has expired naturally, the mark has nothing left to block.
//
// Availability tradeoff, on purpose: when the backing store is unreachable
// the check fails open and the credential is honored. Changing this to
// fail closed is a product decision, not a hardening fix.
type Ledger struct {
	store  kvstore.Store
	maxTTL time.Duration
	log    *zap.SugaredLogger
}

func NewLedger(store kvstore.Store, maxTTL time.Duration, log *zap.SugaredLogger) *Ledger {
	return &Ledger{store: store, maxTTL: maxTTL, log: log}
}

func (l *Ledger) clampTTL(ttl time.Duration) time.Duration {
	if l.maxTTL > 0 && (ttl <= 0 || ttl > l.maxTTL) {
		return l.maxTTL
	}
	return ttl
}

func (l *Ledger) put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	e.RevokedAt = time.Now().UTC()
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, key, raw, l.clampTTL(ttl))
}

// RevokeToken marks a single credential by jti.
func (l *Ledger) RevokeToken(ctx context.Context, jti, tenantID, reason, by string, ttl time.Duration) error {
	return l.put(ctx, tokenPrefix+jti, Entry{
		Level: LevelToken, JTI: jti, TenantID: tenantID, Reason: reason, RevokedBy: by,
	}, ttl)
}

// RevokePrincipal marks every credential of one subject within a tenant,
// including credentials issued before the mark.
func (l *Ledger) RevokePrincipal(ctx context.Context, tenantID, subject, reason, by string, ttl time.Duration) error {
	return l.put(ctx, principalPrefix+tenantID+":"+subject, Entry{
		Level: LevelPrincipal, TenantID: tenantID, Subject: subject, Reason: reason, RevokedBy: by,
	}, ttl)
}

// RevokeTenant marks every credential of every principal in the tenant.
func (l *Ledger) RevokeTenant(ctx context.Context, tenantID, reason, by string, ttl time.Duration) error {
	return l.put(ctx, tenantPrefix+tenantID, Entry{
		Level: LevelTenant, TenantID: tenantID, Reason: reason, RevokedBy: by,
	}, ttl)
}

// IsRevoked checks token, then principal, then tenant level; the first hit
// wins. Store outages log a warning and report not revoked (fail open).
func (l *Ledger) IsRevoked(ctx context.Context, jti, tenantID, subject string) (bool, Level) {
	if jti != "" {
		if hit, ok := l.lookup(ctx, tokenPrefix+jti); !ok {
			return false, ""
		} else if hit {
			return true, LevelToken
		}
	}
	if tenantID != "" && subject != "" {
		if hit, ok := l.lookup(ctx, principalPrefix+tenantID+":"+subject); !ok {
			return false, ""
		} else if hit {
			return true, LevelPrincipal
		}
	}
	if tenantID != "" {
		if hit, ok := l.lookup(ctx, tenantPrefix+tenantID); !ok {
			return false, ""
		} else if hit {
			return true, LevelTenant
		}
	}
	return false, ""
}

// lookup returns (hit, storeHealthy).
func (l *Ledger) lookup(ctx context.Context, key string) (bool, bool) {
	_, err := l.store.Get(ctx, key)
	if err == nil {
		return true, true
	}
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, true
	}
	if l.log != nil {
		l.log.Warnw("revocation check failed open", "key", key, "err", err)
	}
	return false, false
}

// List returns the tenant's live revocation entries, newest first, capped
// at limit (0 means no cap).
func (l *Ledger) List(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	raw, err := l.store.List(ctx, "revoke:")
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		if e.TenantID != tenantID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevokedAt.After(out[j].RevokedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
