package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *time.Time) {
	current := time.Now()
	s := NewStore(30 * time.Minute)
	s.now = func() time.Time { return current }
	return s, &current
}

func TestSetAndGet(t *testing.T) {
	s, _ := newTestStore()

	s.Set("T1", "sms")

	ctx := s.Get()
	require.NotNil(t, ctx)
	assert.Equal(t, "T1", ctx.TransactionID)
	assert.Equal(t, "sms", ctx.AuthType)
	assert.WithinDuration(t, time.Now(), ctx.Timestamp, time.Minute)
}

func TestGetEmpty(t *testing.T) {
	s, _ := newTestStore()
	assert.Nil(t, s.Get())
	assert.False(t, s.IsValid())
	assert.Empty(t, s.TransactionID())
	assert.Empty(t, s.AuthType())
}

func TestGetExpiresLazily(t *testing.T) {
	s, clock := newTestStore()

	s.Set("T1", "sms")
	*clock = clock.Add(29 * time.Minute)
	require.NotNil(t, s.Get())

	*clock = clock.Add(2 * time.Minute)
	assert.Nil(t, s.Get())
	assert.False(t, s.IsValid())

	// Expired state is cleared, not merely hidden.
	*clock = clock.Add(-10 * time.Minute)
	assert.Nil(t, s.Get())
}

func TestSetOverwrites(t *testing.T) {
	s, _ := newTestStore()

	s.Set("T1", "sms")
	s.Set("T2", "whatsapp")

	ctx := s.Get()
	require.NotNil(t, ctx)
	assert.Equal(t, "T2", ctx.TransactionID)
	assert.Equal(t, "whatsapp", ctx.AuthType)
}

func TestClear(t *testing.T) {
	s, _ := newTestStore()

	s.Set("T1", "sms")
	s.Clear()
	assert.Nil(t, s.Get())
}

func TestAccessors(t *testing.T) {
	s, _ := newTestStore()

	s.Set("T1", "sms")
	assert.Equal(t, "T1", s.TransactionID())
	assert.Equal(t, "sms", s.AuthType())
}
