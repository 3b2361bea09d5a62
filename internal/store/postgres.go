// Package store writes the job audit trail to Postgres. The trail is
// append-only; nothing reads it back to rebuild scheduler state.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"silence-trimmer/internal/models"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
	db   execer
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, db: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Record appends one audit row.
func (s *Store) Record(ctx context.Context, ev models.Event) error {
	recorded := ev.Recorded
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_events (id, job_id, event, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), ev.JobID, ev.Event, emptyToNil(ev.Detail), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert job event %s/%s: %w", ev.JobID, ev.Event, err)
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
