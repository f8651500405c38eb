package executor

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
)

// WaitForEvent is the key gate of the system: it blocks a task on an
// externally published TicketEvent by deferring rather than holding a
// connection open. Grounded verbatim on executors/registry.py's
// WaitForEventExecutor.
type WaitForEvent struct {
	Repos               *store.Repos
	DefaultPollInterval int // seconds, used when payload.poll_interval_seconds is absent
}

// errPeekOnly signals "event observed but the caller asked us not to
// consume it" up out of the transaction body, so WithTx rolls the peek
// back without treating it as a real failure.
var errPeekOnly = errors.New("wait_for_event: peek only")

func (w *WaitForEvent) Execute(ctx context.Context, ticket *store.Ticket, task *store.Task) (Result, error) {
	eventType, _ := task.Payload["event_type"].(string)
	if eventType == "" {
		return Result{TerminalFailure: true, Message: "wait_for_event: payload.event_type is required"}, nil
	}

	consume := true
	if v, ok := task.Payload["consume"].(bool); ok {
		consume = v
	}

	var outcome *Result
	err := w.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		event, err := w.Repos.Events.ClaimUnconsumed(ctx, tx, ticket.TicketID, eventType)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !consume {
			r := Result{Success: true, Message: "event observed without consuming", Output: map[string]any(event.Payload)}
			outcome = &r
			return errPeekOnly
		}
		now := policy.Now()
		if err := w.Repos.Events.MarkConsumed(ctx, tx, event.ID, now, task.ID); err != nil {
			return err
		}
		r := Result{Success: true, Message: "event consumed", Output: map[string]any(event.Payload)}
		outcome = &r
		return nil
	})
	if err != nil && !errors.Is(err, errPeekOnly) {
		return Result{}, err
	}
	if outcome != nil {
		return *outcome, nil
	}

	if task.TimeoutSeconds != nil {
		deadline := task.CreatedAt.Add(time.Duration(*task.TimeoutSeconds) * time.Second)
		if !policy.Now().Before(deadline) {
			return Result{TerminalFailure: true, Message: "wait_for_event: timed out waiting for event"}, nil
		}
	}

	pollInterval := w.DefaultPollInterval
	if v, ok := task.Payload["poll_interval_seconds"].(float64); ok && v > 0 {
		pollInterval = int(v)
	}
	if pollInterval < 1 {
		pollInterval = 1
	}
	return Result{Defer: true, DeferSeconds: &pollInterval}, nil
}
