package store

import (
	"context"

	"github.com/kestrelhq/warden/internal/database"
)

// PostgresStore persists key-value entries in the kv_entries table.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM kv_entries WHERE key = $1`

	var value []byte
	err := s.db.Pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.Pool.Exec(ctx, query, key, value)
	return database.MapPostgresError(err)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE key = $1`

	_, err := s.db.Pool.Exec(ctx, query, key)
	return database.MapPostgresError(err)
}
