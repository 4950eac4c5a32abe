package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kestrelhq/warden/internal/store"
)

const storeOpTimeout = 5 * time.Second

// lockoutState is the persisted escalation record. The wire format is a
// single JSON object; anything unreadable is treated as absent.
type lockoutState struct {
	Level     int   `json:"level"`
	Timestamp int64 `json:"timestamp"` // milliseconds since epoch
}

// lockoutEngine escalates the lockout penalty across repeated violations.
// It is the sole writer of its store key. Levels index into the duration
// ladder; the penalty never exceeds the last rung.
type lockoutEngine struct {
	store     store.Store
	key       string
	durations []time.Duration
	decay     time.Duration
	level     int
	logger    *slog.Logger
}

func newLockoutEngine(st store.Store, key string, cfg Config, now time.Time, logger *slog.Logger) *lockoutEngine {
	e := &lockoutEngine{
		store:     st,
		key:       key,
		durations: cfg.LockoutDurations,
		decay:     cfg.LockoutDecay,
		logger:    logger,
	}
	e.load(now)
	return e
}

// load adopts persisted state, applying the decay rule lazily. Corrupt
// entries are purged so they do not fail on every load.
func (e *lockoutEngine) load(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	raw, err := e.store.Get(ctx, e.key)
	if err != nil {
		return
	}

	var state lockoutState
	if err := json.Unmarshal(raw, &state); err != nil || state.Level < 0 || state.Timestamp <= 0 {
		e.logger.Warn("purging unreadable lockout state", slog.String("key", e.key))
		e.purge()
		return
	}

	if now.Sub(time.UnixMilli(state.Timestamp)) > e.decay {
		e.purge()
		return
	}

	e.level = state.Level
}

// escalate returns the penalty for the current level, then bumps and
// persists the level. The penalty just incurred uses the pre-increment
// level; the new level is what the next violation will pay.
func (e *lockoutEngine) escalate(now time.Time) (penalty time.Duration, newLevel int) {
	idx := e.level
	if idx >= len(e.durations) {
		idx = len(e.durations) - 1
	}
	penalty = e.durations[idx]

	newLevel = e.level + 1
	if newLevel > len(e.durations)-1 {
		newLevel = len(e.durations) - 1
	}
	e.level = newLevel

	e.persist(now)
	return penalty, newLevel
}

func (e *lockoutEngine) reset() {
	e.level = 0
	e.purge()
}

func (e *lockoutEngine) persist(now time.Time) {
	raw, err := json.Marshal(lockoutState{Level: e.level, Timestamp: now.UnixMilli()})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := e.store.Set(ctx, e.key, raw); err != nil {
		// Best-effort persistence: escalation still applies in memory.
		e.logger.Error("failed to persist lockout state",
			slog.String("key", e.key),
			slog.Any("error", err))
	}
}

func (e *lockoutEngine) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	_ = e.store.Delete(ctx, e.key)
}
