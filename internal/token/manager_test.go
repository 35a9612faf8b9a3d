package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-service/internal/encryption"
	"funnel-service/internal/monitor"
)

const testKey = "unit-test-key-0123456789"

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	sealer, err := encryption.NewSealer(testKey)
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewManager(store, sealer, monitor.New(nil), 8*time.Hour), store
}

func TestSetTokensAndRead(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	ok := m.SetTokens(ctx, "tok123", "lead-42", "4321", "Bearer")
	require.True(t, ok)

	assert.Equal(t, "tok123", m.AccessToken(ctx))
	assert.Equal(t, "lead-42", m.LeadProfileID(ctx))
	assert.Equal(t, "4321", m.AuthOTP(ctx))
	assert.Equal(t, "Bearer", m.TokenType(ctx))
	assert.True(t, m.IsAuthenticated(ctx))

	info := m.Info(ctx)
	require.NotNil(t, info)
	assert.NotEmpty(t, info.SessionID)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), info.ExpiresAt, time.Minute)
}

func TestSetTokensRefusedWithoutSealer(t *testing.T) {
	ctx := context.Background()
	events := monitor.New(nil)
	m := NewManager(NewMemoryStore(), nil, events, 8*time.Hour)

	assert.False(t, m.SetTokens(ctx, "tok123", "", "", ""))
	assert.False(t, m.IsAuthenticated(ctx))

	summary := events.Summary()
	assert.Equal(t, 1, summary[monitor.EventSuspiciousActivity])
}

func TestTokensSealedAtRest(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	require.True(t, m.SetTokens(ctx, "tok123", "lead-42", "", ""))

	stored, err := store.Get(ctx, "secure_session_v2")
	require.NoError(t, err)
	assert.NotContains(t, stored, "tok123")
	assert.NotContains(t, stored, "lead-42")
}

func TestExpiryPurgesEverything(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	require.True(t, m.SetTokens(ctx, "tok123", "", "", ""))
	require.NoError(t, store.Set(ctx, "token", "legacy-plaintext", 0))

	m.now = func() time.Time { return time.Now().Add(9 * time.Hour) }

	assert.False(t, m.IsAuthenticated(ctx))
	assert.Empty(t, m.AccessToken(ctx))

	_, err := store.Get(ctx, "secure_session_v2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndecryptableRecordPurged(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	require.NoError(t, store.Set(ctx, "secure_session_v2", "garbage", 0))

	assert.False(t, m.IsAuthenticated(ctx))
	_, err := store.Get(ctx, "secure_session_v2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearTokens(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	require.True(t, m.SetTokens(ctx, "tok123", "", "", ""))
	require.NoError(t, store.Set(ctx, "leadprofileid", "legacy", 0))

	m.ClearTokens(ctx)

	assert.False(t, m.IsAuthenticated(ctx))
	_, err := store.Get(ctx, "leadprofileid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	current = current.Add(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
