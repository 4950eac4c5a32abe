package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/warden/internal/store"
)

// Guard is the per-identifier admission state machine. It tracks two
// independent sliding windows (magic-link sends, password logins), a
// CAPTCHA gate over the login window, and two one-second cooldown
// countdowns. Exceeding one window never affects the other.
//
// All methods are safe for concurrent use.
type Guard struct {
	mu         sync.Mutex
	cfg        Config
	identifier string
	clock      Clock
	lockout    *lockoutEngine
	onLockout  LockoutCallback
	logger     *slog.Logger

	magicLink []time.Time
	login     []time.Time

	rateLimited       bool
	rateLimitCooldown int // seconds remaining on the magic-link cooldown
	locked            bool
	lockoutCooldown   int // seconds remaining on the login lockout

	captchaVerified bool

	tickInterval time.Duration
	timerRunning bool
	closed       bool
	done         chan struct{}
}

// NewGuard builds a guard for one identifier, adopting any persisted
// lockout escalation (subject to the decay rule).
func NewGuard(identifier string, cfg Config, st store.Store, clock Clock, onLockout LockoutCallback, logger *slog.Logger) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{
		cfg:          cfg,
		identifier:   identifier,
		clock:        clock,
		lockout:      newLockoutEngine(st, lockoutKey(identifier), cfg, clock(), logger),
		onLockout:    onLockout,
		logger:       logger,
		tickInterval: time.Second,
		done:         make(chan struct{}),
	}
}

func lockoutKey(identifier string) string {
	return "lockout:" + identifier
}

// CheckMagicLink decides whether a magic-link send is admitted. On denial
// it starts the cooldown countdown sized to when the oldest in-window
// attempt will age out. Admission has no side effect; call
// TrackMagicLinkRequest after the send actually goes out.
func (g *Guard) CheckMagicLink() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.magicLink = pruneBefore(g.magicLink, now.Add(-g.cfg.Window))

	if len(g.magicLink) >= g.cfg.MaxMagicLinkRequests {
		wait := g.cfg.Window - now.Sub(g.magicLink[0])
		g.rateLimited = true
		g.rateLimitCooldown = ceilSeconds(wait)
		g.ensureTimerLocked()
		return false
	}
	return true
}

// TrackMagicLinkRequest records a dispatched magic-link send.
func (g *Guard) TrackMagicLinkRequest() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.magicLink = append(g.magicLink, g.clock())
}

// RemainingLoginAttempts returns how many failed logins remain before
// lockout, over the widened login lookback.
func (g *Guard) RemainingLoginAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.login = pruneBefore(g.login, g.clock().Add(-g.cfg.loginLookback()))
	remaining := g.cfg.MaxLoginAttempts - len(g.login)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TrackLoginAttempt records a failed login. It returns true when the
// attempt count reaches the maximum, which escalates the lockout engine,
// starts the lockout countdown at the pre-escalation penalty, and fires
// the lockout callback.
func (g *Guard) TrackLoginAttempt() bool {
	g.mu.Lock()

	now := g.clock()
	g.login = pruneBefore(g.login, now.Add(-g.cfg.loginLookback()))
	g.login = append(g.login, now)

	if len(g.login) < g.cfg.MaxLoginAttempts {
		g.mu.Unlock()
		return false
	}

	penalty, level := g.lockout.escalate(now)
	g.locked = true
	g.lockoutCooldown = ceilSeconds(penalty)
	g.ensureTimerLocked()

	identifier := g.identifier
	callback := g.onLockout
	g.mu.Unlock()

	g.logger.Warn("login lockout triggered",
		slog.String("identifier", identifier),
		slog.Duration("penalty", penalty),
		slog.Int("level", level))

	if callback != nil {
		// Fire-and-forget: a panicking or slow callback must not reach
		// limiter state.
		go func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("lockout callback panicked", slog.Any("panic", r))
				}
			}()
			callback(identifier, penalty, level)
		}()
	}

	return true
}

// ShouldShowCaptcha reports whether the login form must present a
// challenge: at or past the threshold and not yet verified.
func (g *Guard) ShouldShowCaptcha() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.login = pruneBefore(g.login, g.clock().Add(-g.cfg.loginLookback()))
	return len(g.login) >= g.cfg.CaptchaThreshold && !g.captchaVerified
}

// SetCaptchaVerified marks the challenge solved. The flag holds until the
// next ResetLoginAttempts.
func (g *Guard) SetCaptchaVerified(verified bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captchaVerified = verified
}

// ResetMagicLink clears the magic-link window and its cooldown.
func (g *Guard) ResetMagicLink() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.magicLink = nil
	g.rateLimited = false
	g.rateLimitCooldown = 0
}

// ResetLoginAttempts clears the login window, the lockout cooldown, and
// the CAPTCHA-verified flag. The persisted escalation level is not
// touched; that only decays with time.
func (g *Guard) ResetLoginAttempts() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLoginLocked()
}

func (g *Guard) resetLoginLocked() {
	g.login = nil
	g.locked = false
	g.lockoutCooldown = 0
	g.captchaVerified = false
}

// ResetAll clears both windows and the escalation level. Admin use.
func (g *Guard) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.magicLink = nil
	g.rateLimited = false
	g.rateLimitCooldown = 0
	g.resetLoginLocked()
	g.lockout.reset()
}

func (g *Guard) IsRateLimited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rateLimited
}

func (g *Guard) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

func (g *Guard) RateLimitCooldown() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rateLimitCooldown
}

func (g *Guard) LockoutCooldown() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockoutCooldown
}

func (g *Guard) LockoutLevel() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockout.level
}

// Status is a point-in-time view of the guard, served by the limits API.
type Status struct {
	Identifier        string `json:"identifier"`
	RemainingAttempts int    `json:"remaining_attempts"`
	RateLimited       bool   `json:"rate_limited"`
	RateLimitCooldown int    `json:"rate_limit_cooldown_seconds"`
	Locked            bool   `json:"locked"`
	LockoutCooldown   int    `json:"lockout_cooldown_seconds"`
	LockoutLevel      int    `json:"lockout_level"`
	CaptchaRequired   bool   `json:"captcha_required"`
}

func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.login = pruneBefore(g.login, now.Add(-g.cfg.loginLookback()))
	g.magicLink = pruneBefore(g.magicLink, now.Add(-g.cfg.Window))

	remaining := g.cfg.MaxLoginAttempts - len(g.login)
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Identifier:        g.identifier,
		RemainingAttempts: remaining,
		RateLimited:       g.rateLimited,
		RateLimitCooldown: g.rateLimitCooldown,
		Locked:            g.locked,
		LockoutCooldown:   g.lockoutCooldown,
		LockoutLevel:      g.lockout.level,
		CaptchaRequired:   len(g.login) >= g.cfg.CaptchaThreshold && !g.captchaVerified,
	}
}

// Close stops the countdown goroutine if one is running. The guard must
// not be used afterwards.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.done)
}

// ensureTimerLocked starts the countdown goroutine when a cooldown becomes
// active. Exactly one goroutine runs per guard; it exits once both
// counters hit zero.
func (g *Guard) ensureTimerLocked() {
	if g.timerRunning || g.closed {
		return
	}
	g.timerRunning = true
	go g.runCountdown()
}

func (g *Guard) runCountdown() {
	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			if !g.tick() {
				return
			}
		}
	}
}

// tick decrements active cooldowns by one second and applies the
// at-zero transitions: the magic-link countdown clears the rate-limited
// flag; the lockout countdown clears the locked flag and the login
// window. The escalation level persists on its own clock.
// Returns false once no countdown remains active.
func (g *Guard) tick() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := false

	if g.rateLimitCooldown > 0 {
		g.rateLimitCooldown--
		if g.rateLimitCooldown == 0 {
			g.rateLimited = false
		} else {
			active = true
		}
	}

	if g.lockoutCooldown > 0 {
		g.lockoutCooldown--
		if g.lockoutCooldown == 0 {
			g.locked = false
			g.login = nil
		} else {
			active = true
		}
	}

	if !active {
		g.timerRunning = false
	}
	return active
}

// pruneBefore drops timestamps at or before the cutoff. Lists stay
// ordered, so the first surviving element is the oldest in-window entry.
func pruneBefore(attempts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(attempts) && !attempts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return attempts
	}
	return append(attempts[:0:0], attempts[idx:]...)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
