package ticketsvc

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/workflow"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newMockRepos(t *testing.T) (*store.Repos, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	return store.NewRepos(sdb), mock
}

func defaultWorkflow(t *testing.T) workflow.DefinitionLoader {
	t.Helper()
	def, err := workflow.New(workflow.Definition{
		Key:          "default_ticket",
		Version:      "1.0.0",
		InitialStage: "queued",
		Stages: []workflow.StageDefinition{
			{ID: "queued", Executor: "noop", Transitions: []workflow.StageTransition{
				{Target: "running", When: "true"},
			}},
			{ID: "running", Executor: "noop", Transitions: []workflow.StageTransition{
				{Target: "finished", When: "ticket.approval_status == 'approved'"},
			}},
		},
	})
	require.NoError(t, err)
	return workflow.NewStaticLoader(def)
}

func TestCreateTicketUsesWorkflowInitialStage(t *testing.T) {
	repos, mock := newMockRepos(t)
	svc := New(repos, defaultWorkflow(t), "default_ticket", 3, fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tickets`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	ticket, err := svc.CreateTicket(context.Background(), TicketCreateRequest{})
	require.NoError(t, err)
	require.Equal(t, "queued", ticket.Stage)
	require.Equal(t, policy.StatusActive, ticket.Status)
	require.True(t, len(ticket.TicketID) > len("tkt-"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskValidatesMaxAttempts(t *testing.T) {
	repos, _ := newMockRepos(t)
	svc := New(repos, defaultWorkflow(t), "default_ticket", 3, nil)

	bad := 99
	_, err := svc.CreateTask(context.Background(), "tkt-x", TaskCreateRequest{TaskKey: "step", MaxAttempts: &bad})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateTaskRejectsEmptyTaskKey(t *testing.T) {
	repos, _ := newMockRepos(t)
	svc := New(repos, defaultWorkflow(t), "default_ticket", 3, nil)

	_, err := svc.CreateTask(context.Background(), "tkt-x", TaskCreateRequest{})
	require.Error(t, err)
}
