package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// LogRepo appends task_logs rows.
type LogRepo struct {
	db *sqlx.DB
}

func NewLogRepo(db *sqlx.DB) *LogRepo { return &LogRepo{db: db} }

// Add writes one append-only log row for a material task state change.
func (r *LogRepo) Add(ctx context.Context, ext sqlx.ExtContext, l *TaskLog) error {
	query := r.db.Rebind(`
		INSERT INTO task_logs (task_id, log_type, message, details, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	row := ext.QueryRowxContext(ctx, query, l.TaskID, l.LogType, l.Message, l.Details, l.Success, l.CreatedAt)
	return row.Scan(&l.ID)
}

func (r *LogRepo) ListForTask(ctx context.Context, ext sqlx.QueryerContext, taskID int64, limit int) ([]TaskLog, error) {
	var out []TaskLog
	query := r.db.Rebind(`SELECT * FROM task_logs WHERE task_id = ? ORDER BY created_at DESC LIMIT ?`)
	if err := sqlx.SelectContext(ctx, ext, &out, query, taskID, limit); err != nil {
		return nil, err
	}
	return out, nil
}
