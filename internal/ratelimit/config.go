package ratelimit

import "time"

// loginLookbackMultiple widens the login-attempt window relative to the
// magic-link window. Five failed logins inside five windows is the
// escalation trigger, not five inside one.
const loginLookbackMultiple = 5

// Config holds the tunables of the admission core. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	Window               time.Duration
	MaxMagicLinkRequests int
	MaxLoginAttempts     int
	CaptchaThreshold     int
	LockoutDurations     []time.Duration
	LockoutDecay         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:               time.Minute,
		MaxMagicLinkRequests: 3,
		MaxLoginAttempts:     5,
		CaptchaThreshold:     3,
		LockoutDurations:     []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour},
		LockoutDecay:         24 * time.Hour,
	}
}

func (c Config) loginLookback() time.Duration {
	return time.Duration(loginLookbackMultiple) * c.Window
}

// Clock supplies wall-clock time. Injected so tests can advance time
// without sleeping.
type Clock func() time.Time

// LockoutCallback is invoked fire-and-forget when login attempts trip the
// lockout engine. Failures inside the callback never reach limiter state.
type LockoutCallback func(identifier string, duration time.Duration, level int)
