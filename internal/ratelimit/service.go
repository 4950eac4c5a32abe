package ratelimit

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kestrelhq/warden/internal/store"
)

// Service owns one Guard per identifier, created lazily on first use.
// Idle guards are evicted by the background cleanup pass; their lockout
// escalation survives eviction because it lives in the store.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	store     store.Store
	clock     Clock
	onLockout LockoutCallback
	logger    *slog.Logger
	guards    map[string]*guardEntry
	closed    bool
}

type guardEntry struct {
	guard    *Guard
	lastSeen time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLockoutCallback registers the fire-and-forget lockout notification.
func WithLockoutCallback(cb LockoutCallback) Option {
	return func(s *Service) { s.onLockout = cb }
}

func NewService(cfg Config, st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  st,
		clock:  time.Now,
		logger: logger,
		guards: make(map[string]*guardEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard returns the guard for an identifier, creating it on first use.
// Identifiers are normalized to lowercase.
func (s *Service) Guard(identifier string) *Guard {
	identifier = NormalizeIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.guards[identifier]
	if !ok {
		entry = &guardEntry{
			guard: NewGuard(identifier, s.cfg, s.store, s.clock, s.onLockout, s.logger),
		}
		s.guards[identifier] = entry
	}
	entry.lastSeen = s.clock()
	return entry.guard
}

// Reset fully clears an identifier: both windows, cooldowns, and the
// persisted escalation level. Admin surface.
func (s *Service) Reset(identifier string) {
	identifier = NormalizeIdentifier(identifier)

	s.mu.Lock()
	entry, ok := s.guards[identifier]
	s.mu.Unlock()

	if ok {
		entry.guard.ResetAll()
		return
	}

	// No live guard: the escalation level may still be persisted.
	g := NewGuard(identifier, s.cfg, s.store, s.clock, nil, s.logger)
	g.ResetAll()
	g.Close()
}

// EvictIdle closes and removes guards not touched within the given
// duration. Guards with an active cooldown are kept so their countdowns
// finish. Returns the number evicted.
func (s *Service) EvictIdle(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-olderThan)
	evicted := 0
	for identifier, entry := range s.guards {
		if entry.lastSeen.After(cutoff) {
			continue
		}
		if entry.guard.IsLocked() || entry.guard.IsRateLimited() {
			continue
		}
		entry.guard.Close()
		delete(s.guards, identifier)
		evicted++
	}
	return evicted
}

// ActiveGuards reports how many guards are live, for observability.
func (s *Service) ActiveGuards() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guards)
}

// Close stops every guard's countdown goroutine.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, entry := range s.guards {
		entry.guard.Close()
	}
	s.guards = make(map[string]*guardEntry)
}

// NormalizeIdentifier canonicalizes an identifier (email) for keying.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
