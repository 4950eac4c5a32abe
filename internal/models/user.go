package models

import "time"

// User represents an account that authenticates against the service
type User struct {
	ID            string     `db:"id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	Name          string     `db:"name"`
	TOTPSecret    []byte     `db:"totp_secret"`    // AES-GCM encrypted, nil until enrolled
	TOTPNonce     []byte     `db:"totp_nonce"`     // GCM nonce paired with the secret
	TOTPConfirmed bool       `db:"totp_confirmed"` // enrollment verified with a valid code
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastLoginAt   *time.Time `db:"last_login_at"`
}

// MFAEnrolled reports whether the user has a confirmed TOTP device.
func (u *User) MFAEnrolled() bool {
	return u.TOTPConfirmed && len(u.TOTPSecret) > 0
}
