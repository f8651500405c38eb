package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// TicketRepo reads and writes the tickets table.
type TicketRepo struct {
	db *sqlx.DB
}

func NewTicketRepo(db *sqlx.DB) *TicketRepo { return &TicketRepo{db: db} }

func (r *TicketRepo) Insert(ctx context.Context, ext sqlx.ExtContext, t *Ticket) error {
	query := r.db.Rebind(`
		INSERT INTO tickets (
			ticket_id, title, workflow_key, workflow_version, workflow_input,
			stage, status, paused, approval_required, approval_status,
			source_type, context_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	row := ext.QueryRowxContext(ctx, query,
		t.TicketID, t.Title, t.WorkflowKey, t.WorkflowVersion, t.WorkflowInput,
		t.Stage, t.Status, t.Paused, t.ApprovalRequired, t.ApprovalStatus,
		t.SourceType, t.ContextData, t.CreatedAt, t.UpdatedAt,
	)
	return row.Scan(&t.ID)
}

// GetByTicketID loads a ticket by its opaque string id.
func (r *TicketRepo) GetByTicketID(ctx context.Context, ext sqlx.QueryerContext, ticketID string) (*Ticket, error) {
	var t Ticket
	query := r.db.Rebind(`SELECT * FROM tickets WHERE ticket_id = ?`)
	if err := sqlx.GetContext(ctx, ext, &t, query, ticketID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByTicketIDForUpdate loads the ticket row locked for update within a
// transaction, for callers that intend to mutate it in the same statement
// boundary (e.g. pause/resume/approval flows).
func (r *TicketRepo) GetByTicketIDForUpdate(ctx context.Context, tx *sqlx.Tx, ticketID string) (*Ticket, error) {
	var t Ticket
	query := tx.Rebind(`SELECT * FROM tickets WHERE ticket_id = ? FOR UPDATE`)
	if err := tx.GetContext(ctx, &t, query, ticketID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List returns the most recently created tickets, capped at limit.
func (r *TicketRepo) List(ctx context.Context, ext sqlx.QueryerContext, limit int) ([]Ticket, error) {
	var out []Ticket
	query := r.db.Rebind(`SELECT * FROM tickets ORDER BY created_at DESC LIMIT ?`)
	if err := sqlx.SelectContext(ctx, ext, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// Update persists the mutable fields of a ticket row.
func (r *TicketRepo) Update(ctx context.Context, ext sqlx.ExtContext, t *Ticket) error {
	query := r.db.Rebind(`
		UPDATE tickets SET
			title = ?, workflow_version = ?, workflow_input = ?, stage = ?,
			status = ?, paused = ?, paused_at = ?, resumed_at = ?,
			approval_required = ?, approval_status = ?, approval_requested_at = ?,
			approval_decided_at = ?, approval_notes = ?, context_data = ?,
			updated_at = ?, completed_at = ?
		WHERE ticket_id = ?`)
	_, err := ext.ExecContext(ctx, query,
		t.Title, t.WorkflowVersion, t.WorkflowInput, t.Stage,
		t.Status, t.Paused, t.PausedAt, t.ResumedAt,
		t.ApprovalRequired, t.ApprovalStatus, t.ApprovalRequestedAt,
		t.ApprovalDecidedAt, t.ApprovalNotes, t.ContextData,
		t.UpdatedAt, t.CompletedAt,
		t.TicketID,
	)
	return err
}
