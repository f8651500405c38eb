package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/evercore/orchestrator/internal/config"
	"github.com/evercore/orchestrator/internal/executor"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	repos := store.NewRepos(sdb)

	registry := executor.NewRegistry()
	registry.Register("noop", executor.Noop{})

	settings := config.Settings{
		WorkerID:                     "worker-1",
		TaskLeaseSeconds:             300,
		StaleTaskTimeoutSeconds:      900,
		DefaultMaxAttempts:           3,
		RetryBaseSeconds:             10,
		RetryMaxSeconds:              600,
		EventWaitPollIntervalSeconds: 15,
	}
	clock := fixedClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(repos, registry, settings, clock, nil), mock
}

func TestProcessOnceNoQueuedTask(t *testing.T) {
	svc, mock := newTestService(t)

	taskCols := []string{
		"id", "ticket_id", "task_key", "state", "payload", "result_data",
		"error_message", "cancel_requested", "cancel_requested_at",
		"attempt_count", "max_attempts", "retry_base_seconds", "retry_max_seconds",
		"timeout_seconds", "next_run_at", "claimed_by", "claimed_at",
		"lease_expires_at", "created_at", "started_at", "completed_at", "updated_at",
	}

	// reapStaleRunningTasks: begin, select running (empty), commit.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE state = 'running'`).
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectCommit()

	// claim transaction: begin, cancel-requested parkable (empty), claim
	// candidates (empty), heartbeat upsert, commit.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM tasks\s+WHERE cancel_requested = true`).
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectQuery(`SELECT \* FROM tasks\s+WHERE state IN`).
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectExec(`INSERT INTO worker_heartbeats`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resp, err := svc.ProcessOnce(context.Background(), "")
	require.NoError(t, err)
	require.False(t, resp.Processed)
	require.Equal(t, "no queued task", resp.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRetryOrDeadLetterRetries(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO task_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE tasks SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := svc.Repos.DB.Beginx()
	require.NoError(t, err)

	task := &store.Task{ID: 7, AttemptCount: 1, MaxAttempts: 3}
	resp, err := svc.finalizeRetryOrDeadLetter(context.Background(), tx, task, "boom", nil)
	require.NoError(t, err)
	require.Equal(t, "retrying", task.State)
	require.NotNil(t, task.NextRunAt)
	require.Contains(t, resp.Message, "retry scheduled")
}

func TestFinalizeRetryOrDeadLetterDeadLetters(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO task_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE tasks SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := svc.Repos.DB.Beginx()
	require.NoError(t, err)

	task := &store.Task{ID: 8, AttemptCount: 3, MaxAttempts: 3}
	resp, err := svc.finalizeRetryOrDeadLetter(context.Background(), tx, task, "boom", nil)
	require.NoError(t, err)
	require.Equal(t, "dead_letter", task.State)
	require.Nil(t, task.NextRunAt)
	require.Contains(t, resp.Message, "dead-lettered")
}

func TestSyncTicketStateUsesPolicyResolve(t *testing.T) {
	svc, mock := newTestService(t)

	taskCols := []string{
		"id", "ticket_id", "task_key", "state", "payload", "result_data",
		"error_message", "cancel_requested", "cancel_requested_at",
		"attempt_count", "max_attempts", "retry_base_seconds", "retry_max_seconds",
		"timeout_seconds", "next_run_at", "claimed_by", "claimed_at",
		"lease_expires_at", "created_at", "started_at", "completed_at", "updated_at",
	}
	mock.ExpectBegin()
	tx, err := svc.Repos.DB.Beginx()
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			int64(1), "tkt-a", "step", "completed", []byte(`{}`), []byte(`{}`),
			nil, false, nil, 1, 3, nil, nil, nil, nil, nil, nil, nil,
			time.Now(), nil, nil, time.Now(),
		))
	mock.ExpectExec(`UPDATE tickets SET`).WillReturnResult(sqlmock.NewResult(1, 1))

	ticket := &store.Ticket{TicketID: "tkt-a", Stage: "running", Status: policy.StatusActive}
	err = svc.syncTicketState(context.Background(), tx, ticket)
	require.NoError(t, err)
	require.Equal(t, policy.StageFinished, ticket.Stage)
	require.Equal(t, policy.StatusCompleted, ticket.Status)
	require.NotNil(t, ticket.CompletedAt)
}
