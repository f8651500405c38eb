package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ScheduleRepo reads and writes the ticket_schedules table.
type ScheduleRepo struct {
	db *sqlx.DB
}

func NewScheduleRepo(db *sqlx.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

func (r *ScheduleRepo) Insert(ctx context.Context, ext sqlx.ExtContext, s *TicketSchedule) error {
	query := r.db.Rebind(`
		INSERT INTO ticket_schedules (
			schedule_key, active, next_run_at, interval_seconds, ticket_title,
			workflow_key, workflow_version, workflow_input, context_data,
			source_type, task_key, task_payload, task_max_attempts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	row := ext.QueryRowxContext(ctx, query,
		s.ScheduleKey, s.Active, s.NextRunAt, s.IntervalSeconds, s.TicketTitle,
		s.WorkflowKey, s.WorkflowVersion, s.WorkflowInput, s.ContextData,
		s.SourceType, s.TaskKey, s.TaskPayload, s.TaskMaxAttempts,
		s.CreatedAt, s.UpdatedAt,
	)
	return row.Scan(&s.ID)
}

func (r *ScheduleRepo) GetByKey(ctx context.Context, ext sqlx.QueryerContext, key string) (*TicketSchedule, error) {
	var s TicketSchedule
	query := r.db.Rebind(`SELECT * FROM ticket_schedules WHERE schedule_key = ?`)
	if err := sqlx.GetContext(ctx, ext, &s, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *ScheduleRepo) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*TicketSchedule, error) {
	var s TicketSchedule
	query := tx.Rebind(`SELECT * FROM ticket_schedules WHERE id = ? FOR UPDATE`)
	if err := tx.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *ScheduleRepo) List(ctx context.Context, ext sqlx.QueryerContext, limit int) ([]TicketSchedule, error) {
	var out []TicketSchedule
	query := r.db.Rebind(`SELECT * FROM ticket_schedules ORDER BY created_at DESC LIMIT ?`)
	if err := sqlx.SelectContext(ctx, ext, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// DueForUpdate locks due, active schedules for batched materialization.
func (r *ScheduleRepo) DueForUpdate(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]TicketSchedule, error) {
	var out []TicketSchedule
	query := tx.Rebind(`
		SELECT * FROM ticket_schedules
		WHERE active = true AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC LIMIT ?
		FOR UPDATE SKIP LOCKED`)
	if err := tx.SelectContext(ctx, &out, query, now, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ScheduleRepo) Update(ctx context.Context, ext sqlx.ExtContext, s *TicketSchedule) error {
	query := r.db.Rebind(`
		UPDATE ticket_schedules SET
			active = ?, next_run_at = ?, last_run_at = ?, updated_at = ?
		WHERE id = ?`)
	_, err := ext.ExecContext(ctx, query, s.Active, s.NextRunAt, s.LastRunAt, s.UpdatedAt, s.ID)
	return err
}
