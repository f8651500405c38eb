package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Repos bundles every repository behind one handle, the shape callers
// (internal/ticketsvc, internal/worker, internal/schedule) depend on.
type Repos struct {
	DB         *sqlx.DB
	Tickets    *TicketRepo
	Tasks      *TaskRepo
	Logs       *LogRepo
	Heartbeats *HeartbeatRepo
	Events     *EventRepo
	Schedules  *ScheduleRepo
}

func NewRepos(db *sqlx.DB) *Repos {
	return &Repos{
		DB:         db,
		Tickets:    NewTicketRepo(db),
		Tasks:      NewTaskRepo(db),
		Logs:       NewLogRepo(db),
		Heartbeats: NewHeartbeatRepo(db),
		Events:     NewEventRepo(db),
		Schedules:  NewScheduleRepo(db),
	}
}

// WithTx runs fn inside a fresh transaction, committing on success and
// rolling back if fn returns an error or panics. Every "short transaction"
// the specification calls for (claim, cancel-finalize, reap, finalize,
// schedule-claim) goes through this helper so the boundary is explicit and
// uniform.
func (r *Repos) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
