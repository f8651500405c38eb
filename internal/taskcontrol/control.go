// Package taskcontrol gives long-running executors a cheap,
// side-effect-free way to cooperatively notice that they should stop:
// the task was cancelled, the ticket was paused, or an approval gate
// closed underneath them.
package taskcontrol

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/store"
)

// Snapshot is a point-in-time read of everything ShouldStop needs.
type Snapshot struct {
	TaskExists      bool
	TaskState       string
	CancelRequested bool
	TicketExists    bool
	TicketPaused    bool
	ApprovalPending bool
}

// ShouldStop mirrors the original's TaskControlSnapshot.should_stop
// property exactly: missing rows are as disqualifying as an explicit
// cancel.
func (s Snapshot) ShouldStop() bool {
	if !s.TaskExists || !s.TicketExists {
		return true
	}
	return s.CancelRequested || s.TicketPaused || s.ApprovalPending
}

// Control is handed to executors that implement ExecuteWithControl. Each
// call opens and closes its own short read against the database, never
// reusing a transaction the executor might hold open.
type Control struct {
	DB       *sqlx.DB
	TaskID   int64
	TicketID string
}

func New(db *sqlx.DB, taskID int64, ticketID string) *Control {
	return &Control{DB: db, TaskID: taskID, TicketID: ticketID}
}

// Snapshot reads current task/ticket state in a single round trip each.
func (c *Control) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	task, err := store.NewTaskRepo(c.DB).Get(ctx, c.DB, c.TaskID)
	switch {
	case err == nil:
		snap.TaskExists = true
		snap.TaskState = task.State
		snap.CancelRequested = task.CancelRequested
	case err == store.ErrNotFound:
		// leave TaskExists false
	default:
		return Snapshot{}, err
	}

	ticket, err := store.NewTicketRepo(c.DB).GetByTicketID(ctx, c.DB, c.TicketID)
	switch {
	case err == nil:
		snap.TicketExists = true
		snap.TicketPaused = ticket.Paused
		snap.ApprovalPending = ticket.ApprovalRequired && ticket.ApprovalStatus == "pending"
	case err == store.ErrNotFound:
		// leave TicketExists false
	default:
		return Snapshot{}, err
	}

	return snap, nil
}

// ShouldStop is the cheap boolean surface executors poll.
func (c *Control) ShouldStop(ctx context.Context) bool {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		// A read failure is treated as "can't confirm it's safe to
		// continue" — conservatively ask the executor to stop.
		return true
	}
	return snap.ShouldStop()
}
