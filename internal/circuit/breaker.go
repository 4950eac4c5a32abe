// Package circuit implements a per-dependency circuit breaker used by
// outbound-call wrappers and the health endpoint. Each named dependency
// gets its own breaker; state is persisted to the key-value store so a
// restart does not forget an open circuit.
package circuit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/warden/internal/store"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	// MonitoringWindow is advisory: failure counts are not yet aged out
	// on a sliding window.
	MonitoringWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		MonitoringWindow: time.Minute,
	}
}

// Decision is the admission verdict for one call.
type Decision struct {
	Allowed    bool
	State      State
	RetryAfter time.Duration // populated only when denied
}

// OpenError is returned by Execute when the circuit denies admission,
// distinct from the wrapped operation's own errors so callers can tell
// "not allowed to try" from "tried and failed".
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Name, e.RetryAfter)
}

// persistedState is the JSON stored under the breaker's key.
type persistedState struct {
	State           State `json:"state"`
	Failures        int   `json:"failures"`
	Successes       int   `json:"successes"`
	LastFailureTime int64 `json:"last_failure_time"` // milliseconds since epoch
	LastStateChange int64 `json:"last_state_change"`
}

const storeOpTimeout = 5 * time.Second

// Breaker guards one named dependency. All state transitions happen
// under the mutex; the read-modify-write of the counters is atomic with
// respect to concurrent callers.
type Breaker struct {
	mu     sync.Mutex
	name   string
	key    string
	cfg    Config
	store  store.Store
	clock  func() time.Time
	logger *slog.Logger

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time
}

func NewBreaker(namespace, name string, cfg Config, st store.Store, clock func() time.Time, logger *slog.Logger) *Breaker {
	if clock == nil {
		clock = time.Now
	}
	b := &Breaker{
		name:   name,
		key:    fmt.Sprintf("circuit:%s:%s", namespace, name),
		cfg:    cfg,
		store:  st,
		clock:  clock,
		logger: logger,
		state:  StateClosed,
	}
	b.load()
	return b
}

// load adopts persisted state. Anything unreadable means a fresh closed
// circuit, and the bad entry is removed.
func (b *Breaker) load() {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	raw, err := b.store.Get(ctx, b.key)
	if err != nil {
		return
	}

	var saved persistedState
	if err := json.Unmarshal(raw, &saved); err != nil {
		b.logger.Warn("purging unreadable circuit state", slog.String("key", b.key))
		_ = b.store.Delete(ctx, b.key)
		return
	}

	switch saved.State {
	case StateClosed, StateOpen, StateHalfOpen:
	default:
		_ = b.store.Delete(ctx, b.key)
		return
	}

	b.state = saved.State
	b.failures = saved.Failures
	b.successes = saved.Successes
	b.lastFailureTime = time.UnixMilli(saved.LastFailureTime)
	b.lastStateChange = time.UnixMilli(saved.LastStateChange)
}

func (b *Breaker) persistLocked() {
	raw, err := json.Marshal(persistedState{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailureTime.UnixMilli(),
		LastStateChange: b.lastStateChange.UnixMilli(),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := b.store.Set(ctx, b.key, raw); err != nil {
		b.logger.Error("failed to persist circuit state",
			slog.String("circuit", b.name),
			slog.Any("error", err))
	}
}

// CanExecute decides whether a call may proceed. An open circuit whose
// reset timeout has elapsed flips to half-open and admits the probe.
func (b *Breaker) CanExecute() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return Decision{Allowed: true, State: b.state}
	}

	elapsed := b.clock().Sub(b.lastFailureTime)
	if elapsed >= b.cfg.ResetTimeout {
		b.transitionLocked(StateHalfOpen)
		b.successes = 0
		b.persistLocked()
		return Decision{Allowed: true, State: StateHalfOpen}
	}

	return Decision{
		Allowed:    false,
		State:      StateOpen,
		RetryAfter: b.cfg.ResetTimeout - elapsed,
	}
}

// RecordSuccess applies the success transition: half-open circuits close
// after the success threshold; closed circuits with residual failures
// heal one failure per success.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
	b.persistLocked()
}

// RecordFailure applies the failure transition: any failure during
// half-open probation reopens immediately; a closed circuit opens once
// failures reach the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.clock()

	switch b.state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
	b.persistLocked()
}

// Execute wraps an outbound operation: deny with OpenError when the
// circuit is open, otherwise run the operation and record its outcome.
// Operation errors are returned unchanged after being recorded.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	decision := b.CanExecute()
	if !decision.Allowed {
		return &OpenError{Name: b.name, RetryAfter: decision.RetryAfter}
	}

	if err := op(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	b.logger.Info("circuit state change",
		slog.String("circuit", b.name),
		slog.String("from", string(b.state)),
		slog.String("to", string(next)))
	b.state = next
	b.lastStateChange = b.clock()
}
