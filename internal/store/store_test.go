package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func TestTicketRepoInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepo(db)

	mock.ExpectQuery(`INSERT INTO tickets`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	ticket := &Ticket{
		TicketID:    "tkt-abc",
		WorkflowKey: "default_ticket",
		Stage:       "queued",
		Status:      "active",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	err := repo.Insert(context.Background(), db, ticket)
	require.NoError(t, err)
	require.Equal(t, int64(1), ticket.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepoGetByTicketIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepo(db)

	mock.ExpectQuery(`SELECT \* FROM tickets WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_id"}))

	_, err := repo.GetByTicketID(context.Background(), db, "tkt-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepoClaimCandidatesQueryShape(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ticket_id", "task_key", "state", "payload", "result_data",
			"error_message", "cancel_requested", "cancel_requested_at",
			"attempt_count", "max_attempts", "retry_base_seconds", "retry_max_seconds",
			"timeout_seconds", "next_run_at", "claimed_by", "claimed_at",
			"lease_expires_at", "created_at", "started_at", "completed_at", "updated_at",
		}))

	tx, err := db.Beginx()
	require.NoError(t, err)
	rows, err := repo.ClaimCandidates(context.Background(), tx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"a": "b"}
	v, err := m.Value()
	require.NoError(t, err)

	var back JSONMap
	require.NoError(t, back.Scan(v))
	require.Equal(t, "b", back["a"])

	var nilBack JSONMap
	require.NoError(t, nilBack.Scan(nil))
	require.Empty(t, nilBack)
}
