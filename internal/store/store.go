// Package store persists the task audit trail in PostgreSQL. The store
// is optional; a nil *Store is a no-op so deployments without a
// database lose history, not functionality.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	task_type    TEXT NOT NULL,
	priority     TEXT NOT NULL,
	status       TEXT NOT NULL,
	agent_id     TEXT,
	output       TEXT,
	error        TEXT,
	error_kind   TEXT,
	late         BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms  BIGINT,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at DESC);
`

// Migrate creates the audit tables.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.db.Close()
}
