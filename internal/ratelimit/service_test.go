package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/warden/internal/store"
)

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	s := NewService(DefaultConfig(), store.NewMemoryStore(), testLogger(), WithClock(clock.Now))
	t.Cleanup(s.Close)
	return s
}

func TestService_GuardIsPerIdentifier(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	a := s.Guard("alice@example.com")
	b := s.Guard("bob@example.com")

	for i := 0; i < 5; i++ {
		a.TrackLoginAttempt()
	}

	assert.True(t, a.IsLocked())
	assert.False(t, b.IsLocked())
	assert.Equal(t, 5, b.RemainingLoginAttempts())
}

func TestService_NormalizesIdentifier(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	g1 := s.Guard("  Alice@Example.COM ")
	g2 := s.Guard("alice@example.com")
	assert.Same(t, g1, g2)
}

func TestService_ResetClearsEscalation(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	g := s.Guard("alice@example.com")
	for i := 0; i < 5; i++ {
		g.TrackLoginAttempt()
	}
	require.Equal(t, 1, g.LockoutLevel())
	require.True(t, g.IsLocked())

	s.Reset("alice@example.com")

	assert.False(t, g.IsLocked())
	assert.Zero(t, g.LockoutLevel())
	assert.Equal(t, 5, g.RemainingLoginAttempts())
}

func TestService_EvictIdleSkipsActiveCooldowns(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	locked := s.Guard("locked@example.com")
	for i := 0; i < 5; i++ {
		locked.TrackLoginAttempt()
	}
	require.True(t, locked.IsLocked())

	s.Guard("idle@example.com")

	clock.Advance(3 * time.Hour)
	evicted := s.EvictIdle(2 * time.Hour)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.ActiveGuards(), "locked guard must survive eviction")
}

func TestService_EvictionPreservesEscalation(t *testing.T) {
	clock := newFakeClock()
	st := store.NewMemoryStore()
	s := NewService(DefaultConfig(), st, testLogger(), WithClock(clock.Now))
	t.Cleanup(s.Close)

	g := s.Guard("alice@example.com")
	for i := 0; i < 5; i++ {
		g.TrackLoginAttempt()
	}
	require.Equal(t, 1, g.LockoutLevel())

	// Let the lockout lapse, then evict and come back within the decay
	// window: the ladder position must be remembered.
	g.ResetLoginAttempts()
	clock.Advance(3 * time.Hour)
	require.Equal(t, 1, s.EvictIdle(2*time.Hour))

	fresh := s.Guard("alice@example.com")
	assert.Equal(t, 1, fresh.LockoutLevel())
}
