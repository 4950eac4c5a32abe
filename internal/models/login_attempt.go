package models

import "time"

// Attempt kinds recorded in the archive
const (
	AttemptKindLogin     = "login"
	AttemptKindMagicLink = "magic_link"
)

// LoginAttempt is one recorded admission event, archived for audit.
// The live sliding-window counters are held in memory by the rate limiter;
// this archive is the durable trail behind them.
type LoginAttempt struct {
	ID          string    `db:"id"`
	Identifier  string    `db:"identifier"` // normalized email
	Kind        string    `db:"kind"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
	Denied      bool      `db:"denied"` // rejected by admission control before any credential check
	ExpiresAt   time.Time `db:"expires_at"`
}
