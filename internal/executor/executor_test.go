package executor

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evercore/orchestrator/internal/store"
)

func TestRegistryLookupUnknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("ghost")
	require.Error(t, err)
	var target *ErrUnknownTaskKey
	require.ErrorAs(t, err, &target)
}

func TestRegistryExecuteNoop(t *testing.T) {
	reg := NewRegistry()
	reg.Register("noop", Noop{})

	task := &store.Task{TaskKey: "noop", Payload: store.JSONMap{"x": "y"}}
	res, err := reg.Execute(context.Background(), &store.Ticket{}, task, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "y", res.Output["x"])
}

func TestAgentStubWithoutRuntime(t *testing.T) {
	a := &AgentStub{}
	res, err := a.Execute(context.Background(), &store.Ticket{}, &store.Task{Payload: store.JSONMap{}})
	require.NoError(t, err)
	assert.True(t, res.TerminalFailure)
}

type fakeRuntime struct{ reply string }

func (f fakeRuntime) Run(context.Context, string) (string, error) { return f.reply, nil }

func TestAgentStubWithRuntime(t *testing.T) {
	a := &AgentStub{Runtime: fakeRuntime{reply: "ok"}}
	res, err := a.Execute(context.Background(), &store.Ticket{}, &store.Task{Payload: store.JSONMap{"prompt": "hi"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output["response"])
}

func TestWaitForEventMissingEventType(t *testing.T) {
	w := &WaitForEvent{DefaultPollInterval: 15}
	res, err := w.Execute(context.Background(), &store.Ticket{}, &store.Task{Payload: store.JSONMap{}})
	require.NoError(t, err)
	assert.True(t, res.TerminalFailure)
}

// TestWaitForEventPollIntervalFromPayload exercises JSON-number unmarshaling
// of poll_interval_seconds: a task payload decoded off the wire always
// carries it as a float64, never an int.
func TestWaitForEventPollIntervalFromPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sdb := sqlx.NewDb(db, "pgx")
	repos := store.NewRepos(sdb)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM ticket_events\s+WHERE ticket_id`).WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	w := &WaitForEvent{Repos: repos, DefaultPollInterval: 15}
	task := &store.Task{Payload: store.JSONMap{"event_type": "approved", "poll_interval_seconds": float64(5)}}
	res, err := w.Execute(context.Background(), &store.Ticket{TicketID: "tkt-1"}, task)
	require.NoError(t, err)
	require.True(t, res.Defer)
	require.NotNil(t, res.DeferSeconds)
	assert.Equal(t, 5, *res.DeferSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}
