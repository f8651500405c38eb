package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// EventRepo reads and writes the append-only ticket_events mailbox.
type EventRepo struct {
	db *sqlx.DB
}

func NewEventRepo(db *sqlx.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Add(ctx context.Context, ext sqlx.ExtContext, e *TicketEvent) error {
	query := r.db.Rebind(`
		INSERT INTO ticket_events (ticket_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`)
	row := ext.QueryRowxContext(ctx, query, e.TicketID, e.EventType, e.Payload, e.CreatedAt)
	return row.Scan(&e.ID)
}

func (r *EventRepo) ListForTicket(ctx context.Context, ext sqlx.QueryerContext, ticketID string, limit int) ([]TicketEvent, error) {
	var out []TicketEvent
	query := r.db.Rebind(`
		SELECT * FROM ticket_events WHERE ticket_id = ?
		ORDER BY created_at DESC LIMIT ?`)
	if err := sqlx.SelectContext(ctx, ext, &out, query, ticketID, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimUnconsumed locks and returns the oldest unconsumed event for
// (ticketID, eventType) within the caller's transaction, implementing the
// at-most-once row-lock race at the heart of the wait_for_event gate.
func (r *EventRepo) ClaimUnconsumed(ctx context.Context, tx *sqlx.Tx, ticketID, eventType string) (*TicketEvent, error) {
	var e TicketEvent
	query := tx.Rebind(`
		SELECT * FROM ticket_events
		WHERE ticket_id = ? AND event_type = ? AND consumed_at IS NULL
		ORDER BY created_at ASC LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if err := tx.GetContext(ctx, &e, query, ticketID, eventType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *EventRepo) MarkConsumed(ctx context.Context, ext sqlx.ExtContext, id int64, consumedAt time.Time, consumedByTaskID int64) error {
	query := r.db.Rebind(`UPDATE ticket_events SET consumed_at = ?, consumed_by_task_id = ? WHERE id = ?`)
	_, err := ext.ExecContext(ctx, query, consumedAt, consumedByTaskID, id)
	return err
}
