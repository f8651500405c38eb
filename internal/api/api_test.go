package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/evercore/orchestrator/internal/schedule"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/ticketsvc"
	"github.com/evercore/orchestrator/internal/workflow"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func defaultWorkflow(t *testing.T) workflow.DefinitionLoader {
	t.Helper()
	def, err := workflow.New(workflow.Definition{
		Key:          "default_ticket",
		Version:      "1.0.0",
		InitialStage: "queued",
		Stages: []workflow.StageDefinition{
			{ID: "queued", Executor: "noop", Transitions: []workflow.StageTransition{
				{Target: "finished", When: "true"},
			}},
		},
	})
	require.NoError(t, err)
	return workflow.NewStaticLoader(def)
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	repos := store.NewRepos(sdb)
	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticketsvc.New(repos, defaultWorkflow(t), "default_ticket", 3, clock)
	schedules := schedule.New(repos, tickets, "default_ticket", clock, nil)
	return New(tickets, schedules, nil), mock
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Mux(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestCreateTicketEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mux := srv.Mux(nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tickets`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT (.|\n)* FROM tickets WHERE`).
		WillReturnRows(sqlmock.NewRows(ticketColumns()).AddRow(ticketRow("tkt-0000000001", "queued", "running", nil)...))
	mock.ExpectQuery(`SELECT (.|\n)* FROM tasks WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows(taskColumns()))

	body, err := json.Marshal(ticketCreateWire{WorkflowKey: "default_ticket"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/tickets", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestGetTicketNotFoundEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mux := srv.Mux(nil)

	mock.ExpectQuery(`SELECT (.|\n)* FROM tickets WHERE`).
		WillReturnRows(sqlmock.NewRows(ticketColumns()))

	req := httptest.NewRequest(http.MethodGet, "/v1/tickets/tkt-missing", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateScheduleValidationErrorEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Mux(nil)

	body, err := json.Marshal(scheduleCreateWire{ScheduleKey: "nightly-sync"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/schedules", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestScheduleSubrouteBadID(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Mux(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/schedules/not-a-number/pause", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func ticketColumns() []string {
	return []string{
		"id", "ticket_id", "title", "workflow_key", "workflow_version",
		"workflow_input", "stage", "status", "paused", "paused_at", "resumed_at",
		"approval_required", "approval_status", "approval_requested_at",
		"approval_decided_at", "approval_notes", "source_type", "context_data",
		"created_at", "updated_at", "completed_at",
	}
}

func ticketRow(ticketID, stage, status string, completedAt *time.Time) []driverValue {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []driverValue{
		int64(1), ticketID, nil, "default_ticket", "1.0.0",
		[]byte("{}"), stage, status, false, nil, nil,
		false, "none", nil,
		nil, nil, nil, []byte("{}"),
		now, now, completedAt,
	}
}

func taskColumns() []string {
	return []string{
		"id", "ticket_id", "task_key", "state", "payload", "result_data",
		"error_message", "cancel_requested", "cancel_requested_at", "attempt_count",
		"max_attempts", "retry_base_seconds", "retry_max_seconds", "timeout_seconds",
		"next_run_at", "claimed_by", "claimed_at", "lease_expires_at",
		"created_at", "started_at", "completed_at", "updated_at",
	}
}

type driverValue = any
