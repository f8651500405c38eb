package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/ticketsvc"
	"github.com/evercore/orchestrator/internal/workflow"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	repos := store.NewRepos(sdb)

	def, err := workflow.New(workflow.Definition{
		Key:          "default_ticket",
		Version:      "1.0.0",
		InitialStage: "queued",
		Stages: []workflow.StageDefinition{
			{ID: "queued", Executor: "noop"},
		},
	})
	require.NoError(t, err)
	loader := workflow.NewStaticLoader(def)

	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticketsvc.New(repos, loader, "default_ticket", 3, clock)
	return New(repos, tickets, "default_ticket", clock, nil), mock
}

func TestCreateScheduleRejectsMissingTimingFields(t *testing.T) {
	svc, _ := newMockService(t)
	_, err := svc.CreateSchedule(context.Background(), CreateRequest{ScheduleKey: "nightly-report"})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateScheduleRejectsDuplicateKey(t *testing.T) {
	svc, mock := newMockService(t)

	scheduleCols := []string{
		"id", "schedule_key", "active", "next_run_at", "interval_seconds",
		"ticket_title", "workflow_key", "workflow_version", "workflow_input",
		"context_data", "source_type", "task_key", "task_payload",
		"task_max_attempts", "last_run_at", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM ticket_schedules WHERE schedule_key`).
		WillReturnRows(sqlmock.NewRows(scheduleCols).AddRow(
			int64(1), "nightly-report", true, nil, 3600,
			nil, nil, nil, []byte(`{}`), []byte(`{}`), nil, nil, []byte(`{}`),
			nil, nil, time.Now(), time.Now(),
		))
	mock.ExpectRollback()

	interval := 3600
	_, err := svc.CreateSchedule(context.Background(), CreateRequest{
		ScheduleKey:     "nightly-report",
		IntervalSeconds: &interval,
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScheduleInsertsRecurringSchedule(t *testing.T) {
	svc, mock := newMockService(t)

	scheduleCols := []string{
		"id", "schedule_key", "active", "next_run_at", "interval_seconds",
		"ticket_title", "workflow_key", "workflow_version", "workflow_input",
		"context_data", "source_type", "task_key", "task_payload",
		"task_max_attempts", "last_run_at", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM ticket_schedules WHERE schedule_key`).
		WillReturnRows(sqlmock.NewRows(scheduleCols))
	mock.ExpectQuery(`INSERT INTO ticket_schedules`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	interval := 600
	row, err := svc.CreateSchedule(context.Background(), CreateRequest{
		ScheduleKey:     "poll-inbox",
		IntervalSeconds: &interval,
	})
	require.NoError(t, err)
	require.True(t, row.Active)
	require.Equal(t, "default_ticket", *row.WorkflowKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScheduleBoundsIntervalSeconds(t *testing.T) {
	svc, _ := newMockService(t)
	tooLarge := 86400*365 + 1
	_, err := svc.CreateSchedule(context.Background(), CreateRequest{
		ScheduleKey:     "too-infrequent",
		IntervalSeconds: &tooLarge,
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
