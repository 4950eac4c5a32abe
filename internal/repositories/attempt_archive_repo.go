package repositories

import (
	"context"
	"time"

	"github.com/kestrelhq/warden/internal/database"
	"github.com/kestrelhq/warden/internal/models"
)

// AttemptArchiveRepository persists the audit trail behind the in-memory
// sliding windows. Rows carry their own expiry and are reaped by the
// background cleanup.
type AttemptArchiveRepository struct {
	db *database.DB
}

func NewAttemptArchiveRepository(db *database.DB) *AttemptArchiveRepository {
	return &AttemptArchiveRepository{db: db}
}

func (r *AttemptArchiveRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempt_archive (identifier, kind, ip_address, user_agent, success, denied, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Identifier,
		attempt.Kind,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.Denied,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// CountFailures returns the number of failed attempts of a kind for an
// identifier since the given time. Used by the admin limits endpoint.
func (r *AttemptArchiveRepository) CountFailures(ctx context.Context, identifier, kind string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempt_archive
		WHERE identifier = $1 AND kind = $2 AND success = false AND attempt_time >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identifier, kind, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// DeleteExpired reaps rows past their expiry, returning how many went.
func (r *AttemptArchiveRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempt_archive WHERE expires_at <= CURRENT_TIMESTAMP`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
