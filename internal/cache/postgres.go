package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes that mean the server is out of space.
const (
	sqlStateDiskFull          = "53100"
	sqlStateProgramLimitError = "54000"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS firewatch_cache (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// pgxExecutor is the subset of *pgxpool.Pool used by PostgresStore.
type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by a single key/value table.
type PostgresStore struct {
	db pgxExecutor
}

// NewPostgresStore wraps a pool or connection.
func NewPostgresStore(db pgxExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the cache table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM firewatch_cache WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select cache %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO firewatch_cache (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == sqlStateDiskFull || pgErr.Code == sqlStateProgramLimitError) {
		return fmt.Errorf("upsert cache %s: %w: %s", key, ErrQuotaExceeded, pgErr.Message)
	}
	return fmt.Errorf("upsert cache %s: %w", key, err)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM firewatch_cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache %s: %w", key, err)
	}
	return nil
}
