package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// TaskRepo reads and writes the tasks table.
type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

func (r *TaskRepo) Insert(ctx context.Context, ext sqlx.ExtContext, t *Task) error {
	query := r.db.Rebind(`
		INSERT INTO tasks (
			ticket_id, task_key, state, payload, result_data, error_message,
			cancel_requested, attempt_count, max_attempts, retry_base_seconds,
			retry_max_seconds, timeout_seconds, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	row := ext.QueryRowxContext(ctx, query,
		t.TicketID, t.TaskKey, t.State, t.Payload, t.ResultData, t.ErrorMessage,
		t.CancelRequested, t.AttemptCount, t.MaxAttempts, t.RetryBaseSeconds,
		t.RetryMaxSeconds, t.TimeoutSeconds, t.NextRunAt, t.CreatedAt, t.UpdatedAt,
	)
	return row.Scan(&t.ID)
}

func (r *TaskRepo) Get(ctx context.Context, ext sqlx.QueryerContext, id int64) (*Task, error) {
	var t Task
	query := r.db.Rebind(`SELECT * FROM tasks WHERE id = ?`)
	if err := sqlx.GetContext(ctx, ext, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*Task, error) {
	var t Task
	query := tx.Rebind(`SELECT * FROM tasks WHERE id = ? FOR UPDATE`)
	if err := tx.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) ListForTicket(ctx context.Context, ext sqlx.QueryerContext, ticketID string) ([]Task, error) {
	var out []Task
	query := r.db.Rebind(`SELECT * FROM tasks WHERE ticket_id = ? ORDER BY created_at ASC`)
	if err := sqlx.SelectContext(ctx, ext, &out, query, ticketID); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimCandidates locks and returns tasks eligible for claim consideration:
// state in (queued, retrying), not cancel-requested, and due (next_run_at
// null or in the past), ordered created_at ascending, within the caller's
// transaction. The caller walks this slice applying ticket/dependency
// gates and claims (or parks) each row in place.
func (r *TaskRepo) ClaimCandidates(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]Task, error) {
	var out []Task
	query := tx.Rebind(`
		SELECT * FROM tasks
		WHERE state IN ('queued', 'retrying')
		  AND cancel_requested = false
		  AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`)
	if err := tx.SelectContext(ctx, &out, query, now, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// RunningTasksForReap locks every task currently in the running state for
// the stale-lease reaper's own short transaction.
func (r *TaskRepo) RunningTasksForReap(ctx context.Context, tx *sqlx.Tx, limit int) ([]Task, error) {
	var out []Task
	query := tx.Rebind(`
		SELECT * FROM tasks WHERE state = 'running'
		ORDER BY created_at ASC LIMIT ?
		FOR UPDATE SKIP LOCKED`)
	if err := tx.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelRequestedParkable locks tasks with cancel_requested = true whose
// state is still one the worker can finalize to cancelled directly
// (queued, retrying, paused, blocked).
func (r *TaskRepo) CancelRequestedParkable(ctx context.Context, tx *sqlx.Tx, limit int) ([]Task, error) {
	var out []Task
	query := tx.Rebind(`
		SELECT * FROM tasks
		WHERE cancel_requested = true
		  AND state IN ('queued', 'retrying', 'paused', 'blocked')
		ORDER BY created_at ASC LIMIT ?
		FOR UPDATE SKIP LOCKED`)
	if err := tx.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// DependenciesSatisfied reports whether every predecessor of taskID has
// reached the completed state.
func (r *TaskRepo) DependenciesSatisfied(ctx context.Context, ext sqlx.QueryerContext, taskID int64) (bool, error) {
	var unmet int
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id = ? AND t.state <> 'completed'`)
	if err := sqlx.GetContext(ctx, ext, &unmet, query, taskID); err != nil {
		return false, err
	}
	return unmet == 0, nil
}

func (r *TaskRepo) Update(ctx context.Context, ext sqlx.ExtContext, t *Task) error {
	query := r.db.Rebind(`
		UPDATE tasks SET
			state = ?, payload = ?, result_data = ?, error_message = ?,
			cancel_requested = ?, cancel_requested_at = ?, attempt_count = ?,
			max_attempts = ?, next_run_at = ?, claimed_by = ?, claimed_at = ?,
			lease_expires_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`)
	_, err := ext.ExecContext(ctx, query,
		t.State, t.Payload, t.ResultData, t.ErrorMessage,
		t.CancelRequested, t.CancelRequestedAt, t.AttemptCount,
		t.MaxAttempts, t.NextRunAt, t.ClaimedBy, t.ClaimedAt,
		t.LeaseExpiresAt, t.StartedAt, t.CompletedAt, t.UpdatedAt,
		t.ID,
	)
	return err
}

// RenewLease is the lease renewer's narrow, independent-session update: it
// only succeeds (affecting one row) while the task is still running and
// still owned by workerID.
func (r *TaskRepo) RenewLease(ctx context.Context, ext sqlx.ExtContext, taskID int64, workerID string, leaseExpiresAt, now time.Time) (bool, error) {
	query := r.db.Rebind(`
		UPDATE tasks SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND claimed_by = ?`)
	res, err := ext.ExecContext(ctx, query, leaseExpiresAt, now, taskID, workerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertDependencies registers the edges task -> dependsOn, ignoring
// non-positive ids as the source does.
func InsertDependencies(ctx context.Context, ext sqlx.ExtContext, db *sqlx.DB, taskID int64, dependsOn []int64, now time.Time) error {
	for _, dep := range dependsOn {
		if dep <= 0 {
			continue
		}
		query := db.Rebind(`INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)`)
		if _, err := ext.ExecContext(ctx, query, taskID, dep, now); err != nil {
			return err
		}
	}
	return nil
}
