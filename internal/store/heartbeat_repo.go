package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HeartbeatRepo upserts the single WorkerHeartbeat row per worker_id.
type HeartbeatRepo struct {
	db *sqlx.DB
}

func NewHeartbeatRepo(db *sqlx.DB) *HeartbeatRepo { return &HeartbeatRepo{db: db} }

// Upsert reports the worker's current state, mirroring the original's
// update_heartbeat: insert on first sight, otherwise update in place.
func (r *HeartbeatRepo) Upsert(ctx context.Context, ext sqlx.ExtContext, workerID, state string, currentTaskID *int64, now time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO worker_heartbeats (worker_id, state, current_task_id, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (worker_id) DO UPDATE SET
			state = EXCLUDED.state,
			current_task_id = EXCLUDED.current_task_id,
			last_seen_at = EXCLUDED.last_seen_at`)
	_, err := ext.ExecContext(ctx, query, workerID, state, currentTaskID, now)
	return err
}
