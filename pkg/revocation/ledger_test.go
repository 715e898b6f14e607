package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchday/pkg/kvstore"
)

func newLedger(s kvstore.Store) *Ledger {
	return NewLedger(s, 24*time.Hour, zap.NewNop().Sugar())
}

func TestTokenLevelRevocation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(kvstore.NewMemory())

	require.NoError(t, l.RevokeToken(ctx, "jti-1", "t1", "stolen laptop", "ops", time.Hour))

	hit, level := l.IsRevoked(ctx, "jti-1", "t1", "u1")
	require.True(t, hit)
	require.Equal(t, LevelToken, level)

	hit, _ = l.IsRevoked(ctx, "jti-2", "t1", "u1")
	require.False(t, hit, "sibling token must stay valid")
}

func TestPrincipalLevelRevocation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(kvstore.NewMemory())

	require.NoError(t, l.RevokePrincipal(ctx, "t1", "u1", "offboarded", "ops", 0))

	hit, level := l.IsRevoked(ctx, "jti-a", "t1", "u1")
	require.True(t, hit)
	require.Equal(t, LevelPrincipal, level)

	hit, _ = l.IsRevoked(ctx, "jti-b", "t1", "u2")
	require.False(t, hit, "sibling principal must stay valid")

	hit, _ = l.IsRevoked(ctx, "jti-c", "t2", "u1")
	require.False(t, hit, "same subject in another tenant must stay valid")
}

func TestTenantLevelRevocation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(kvstore.NewMemory())

	require.NoError(t, l.RevokeTenant(ctx, "t1", "nonpayment", "billing", 0))

	for _, sub := range []string{"u1", "u2", "u3"} {
		hit, level := l.IsRevoked(ctx, "jti-"+sub, "t1", sub)
		require.True(t, hit, "subject %s", sub)
		require.Equal(t, LevelTenant, level)
	}

	hit, _ := l.IsRevoked(ctx, "jti-x", "t2", "u1")
	require.False(t, hit, "other tenant unaffected")
}

func TestPlatformTokensSkipTenantChecks(t *testing.T) {
	ctx := context.Background()
	l := newLedger(kvstore.NewMemory())
	require.NoError(t, l.RevokeTenant(ctx, "t1", "x", "ops", 0))

	// Platform identities carry no tenant id; only a token-level mark applies.
	hit, _ := l.IsRevoked(ctx, "jti-platform", "", "ops@matchday")
	require.False(t, hit)

	require.NoError(t, l.RevokeToken(ctx, "jti-platform", "", "rotated", "ops", time.Hour))
	hit, level := l.IsRevoked(ctx, "jti-platform", "", "ops@matchday")
	require.True(t, hit)
	require.Equal(t, LevelToken, level)
}

type downStore struct{ kvstore.Store }

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestFailsOpenOnStoreOutage(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	require.NoError(t, newLedger(mem).RevokeTenant(ctx, "t1", "x", "ops", 0))

	l := newLedger(downStore{Store: mem})
	hit, _ := l.IsRevoked(ctx, "jti-1", "t1", "u1")
	require.False(t, hit, "store outage must fail open")
}

func TestEntriesSelfPrune(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mem := kvstore.NewMemoryWithClock(mock)
	l := newLedger(mem)

	// Requested TTL far beyond the credential lifetime gets clamped.
	require.NoError(t, l.RevokeToken(ctx, "jti-1", "t1", "x", "ops", 1000*time.Hour))

	hit, _ := l.IsRevoked(ctx, "jti-1", "t1", "u1")
	require.True(t, hit)

	mock.Add(25 * time.Hour)
	hit, _ = l.IsRevoked(ctx, "jti-1", "t1", "u1")
	require.False(t, hit, "entry must expire with the max credential lifetime")
}

func TestListFiltersByTenant(t *testing.T) {
	ctx := context.Background()
	l := newLedger(kvstore.NewMemory())

	require.NoError(t, l.RevokeToken(ctx, "jti-1", "t1", "a", "ops", time.Hour))
	require.NoError(t, l.RevokePrincipal(ctx, "t1", "u1", "b", "ops", 0))
	require.NoError(t, l.RevokeTenant(ctx, "t2", "c", "ops", 0))

	got, err := l.List(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		require.Equal(t, "t1", e.TenantID)
		require.False(t, e.RevokedAt.IsZero())
	}

	got, err = l.List(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
