// File: internal/kvstore/postgres.go
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS kv_settings (
            key        TEXT PRIMARY KEY,
            value      JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`
	pgSelect = `SELECT value FROM kv_settings WHERE key = $1`
	pgUpsert = `
        INSERT INTO kv_settings (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;`
)

// PostgresStore shares settings across machines through a PostgreSQL table.
type PostgresStore struct {
	pool   DBPool
	log    *zap.Logger
	closer func()
}

// NewPostgresStore verifies the connection and ensures the table exists.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("kvstore.postgres")}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	var data []byte
	err := s.pool.QueryRow(ctx, pgSelect, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kvstore: failed to query %q: %w", key, err)
	}
	if err := decode(key, data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgUpsert, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("kvstore: failed to upsert %q: %w", key, err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}
