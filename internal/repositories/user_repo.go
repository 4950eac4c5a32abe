package repositories

import (
	"context"
	"time"

	"github.com/kestrelhq/warden/internal/database"
	"github.com/kestrelhq/warden/internal/models"
)

// UserRepository handles database operations for user accounts
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Name).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, name, totp_secret, totp_nonce, totp_confirmed,
		       created_at, updated_at, last_login_at
		FROM users
		WHERE email = $1
	`

	var user models.User
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.TOTPSecret,
		&user.TOTPNonce,
		&user.TOTPConfirmed,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

// SetTOTPEnrollment stores an encrypted TOTP secret. Confirmed stays
// false until the user verifies a code.
func (r *UserRepository) SetTOTPEnrollment(ctx context.Context, userID string, secret, nonce []byte) error {
	query := `
		UPDATE users
		SET totp_secret = $2, totp_nonce = $3, totp_confirmed = false, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, secret, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ConfirmTOTP(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET totp_confirmed = true, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, userID string, when time.Time) error {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, userID, when)
	return database.MapPostgresError(err)
}
