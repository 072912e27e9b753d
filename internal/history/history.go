// Package history persists fleet events and workflow executions to
// Postgres. The store is optional: a nil Store is a no-op, so the
// service runs unchanged without a database.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS fleet_events (
	id          BIGSERIAL PRIMARY KEY,
	server_id   TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fleet_events_server_idx ON fleet_events (server_id, occurred_at);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id           TEXT PRIMARY KEY,
	workflow     TEXT NOT NULL,
	status       TEXT NOT NULL,
	detail       JSONB NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS workflow_executions_started_idx ON workflow_executions (started_at DESC);
`

// Store writes history rows to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to the database and applies the schema. An empty DSN
// returns a nil store, which every method tolerates.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// RecordEvent persists one status transition.
func (s *Store) RecordEvent(ctx context.Context, e fleet.Event) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fleet_events (server_id, from_status, to_status, reason, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ServerID, string(e.From), string(e.To), e.Reason, e.At)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordExecution persists a finished workflow execution.
func (s *Store) RecordExecution(ctx context.Context, exec *orchestrator.Execution) error {
	if s == nil || s.pool == nil || exec == nil {
		return nil
	}
	detail, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_executions (id, workflow, status, detail, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, detail = EXCLUDED.detail, completed_at = EXCLUDED.completed_at`,
		string(exec.ID), exec.Workflow, string(exec.Status), detail, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Events returns persisted transitions for one server, newest first.
func (s *Store) Events(ctx context.Context, serverID string, limit int) ([]fleet.Event, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT server_id, from_status, to_status, reason, occurred_at
		 FROM fleet_events
		 WHERE ($1 = '' OR server_id = $1)
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []fleet.Event
	for rows.Next() {
		var e fleet.Event
		var from, to string
		var at time.Time
		if err := rows.Scan(&e.ServerID, &from, &to, &e.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.From = fleet.Status(from)
		e.To = fleet.Status(to)
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}
