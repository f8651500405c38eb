// Package migrate applies the idempotent schema bootstrap the
// specification calls for: absent columns on tasks and tickets (cancel,
// retry, lease, pause, approval fields) and their indexes are added
// idempotently on startup, the same way the donor's persistence layer
// idempotently created its BoltDB buckets before first use.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/libs/go/core/resilience"
)

// statementAttempts/statementRetryDelay bound how hard Apply retries a
// single DDL statement against a connection that is still settling right
// after Open returns (e.g. a failover leader election still in flight).
const (
	statementAttempts   = 3
	statementRetryDelay = 200 * time.Millisecond
)

// statements is deliberately a flat, ordered list of idempotent DDL rather
// than a versioned migration chain: every statement is safe to re-run, so
// there is no migration-version bookkeeping table to maintain.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		ticket_id TEXT NOT NULL UNIQUE,
		title TEXT,
		workflow_key TEXT NOT NULL DEFAULT 'default_ticket',
		workflow_version TEXT,
		workflow_input JSONB NOT NULL DEFAULT '{}',
		stage TEXT NOT NULL DEFAULT 'queued',
		status TEXT NOT NULL DEFAULT 'active',
		paused BOOLEAN NOT NULL DEFAULT false,
		paused_at TIMESTAMPTZ,
		resumed_at TIMESTAMPTZ,
		approval_required BOOLEAN NOT NULL DEFAULT false,
		approval_status TEXT NOT NULL DEFAULT 'none',
		approval_requested_at TIMESTAMPTZ,
		approval_decided_at TIMESTAMPTZ,
		approval_notes TEXT,
		source_type TEXT,
		context_data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_workflow_key ON tickets (workflow_key)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_stage ON tickets (stage)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_paused ON tickets (paused)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_approval_required ON tickets (approval_required)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_approval_status ON tickets (approval_status)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets (ticket_id),
		task_key TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'queued',
		payload JSONB NOT NULL DEFAULT '{}',
		result_data JSONB NOT NULL DEFAULT '{}',
		error_message TEXT,
		cancel_requested BOOLEAN NOT NULL DEFAULT false,
		cancel_requested_at TIMESTAMPTZ,
		attempt_count INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL DEFAULT 3,
		retry_base_seconds INT,
		retry_max_seconds INT,
		timeout_seconds INT,
		next_run_at TIMESTAMPTZ,
		claimed_by TEXT,
		claimed_at TIMESTAMPTZ,
		lease_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_ticket_id ON tasks (ticket_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_task_key ON tasks (task_key)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks (state)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_cancel_requested ON tasks (cancel_requested)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_next_run_at ON tasks (next_run_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claimed_by ON tasks (claimed_by)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claimed_at ON tasks (claimed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_lease_expires_at ON tasks (lease_expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claim_candidates ON tasks (state, next_run_at) WHERE cancel_requested = false`,

	`CREATE TABLE IF NOT EXISTS task_dependencies (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks (id),
		depends_on_task_id BIGINT NOT NULL REFERENCES tasks (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies (task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies (depends_on_task_id)`,

	`CREATE TABLE IF NOT EXISTS task_logs (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks (id),
		log_type TEXT NOT NULL DEFAULT 'info',
		message TEXT NOT NULL,
		details JSONB NOT NULL DEFAULT '{}',
		success BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs (task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_log_type ON task_logs (log_type)`,

	`CREATE TABLE IF NOT EXISTS worker_heartbeats (
		id BIGSERIAL PRIMARY KEY,
		worker_id TEXT NOT NULL UNIQUE,
		state TEXT NOT NULL DEFAULT 'idle',
		current_task_id BIGINT,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_state ON worker_heartbeats (state)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_current_task_id ON worker_heartbeats (current_task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_last_seen_at ON worker_heartbeats (last_seen_at)`,

	`CREATE TABLE IF NOT EXISTS ticket_events (
		id BIGSERIAL PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets (ticket_id),
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		consumed_at TIMESTAMPTZ,
		consumed_by_task_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_ticket_id ON ticket_events (ticket_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_event_type ON ticket_events (event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_consumed_at ON ticket_events (consumed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_consumed_by_task_id ON ticket_events (consumed_by_task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_created_at ON ticket_events (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_events_unconsumed_lookup ON ticket_events (ticket_id, event_type, created_at) WHERE consumed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS ticket_schedules (
		id BIGSERIAL PRIMARY KEY,
		schedule_key TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT true,
		next_run_at TIMESTAMPTZ,
		interval_seconds INT,
		ticket_title TEXT,
		workflow_key TEXT,
		workflow_version TEXT,
		workflow_input JSONB NOT NULL DEFAULT '{}',
		context_data JSONB NOT NULL DEFAULT '{}',
		source_type TEXT,
		task_key TEXT,
		task_payload JSONB NOT NULL DEFAULT '{}',
		task_max_attempts INT,
		last_run_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_schedules_active ON ticket_schedules (active)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_schedules_next_run_at ON ticket_schedules (next_run_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_schedules_workflow_key ON ticket_schedules (workflow_key)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_schedules_task_key ON ticket_schedules (task_key)`,
}

// Apply runs every bootstrap statement in order. Each statement is
// idempotent, so Apply is safe to call on every process start.
func Apply(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range statements {
		_, err := resilience.Retry(ctx, statementAttempts, statementRetryDelay, func() (struct{}, error) {
			_, execErr := db.ExecContext(ctx, stmt)
			return struct{}{}, execErr
		})
		if err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i, err)
		}
	}
	return nil
}
