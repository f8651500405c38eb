// Package worker implements the single-task claim-execute-finalize cycle
// the rest of the orchestrator polls in a loop: process_once.
package worker

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/config"
	"github.com/evercore/orchestrator/internal/executor"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/taskcontrol"
	"github.com/evercore/orchestrator/internal/telemetry"
)

// RunResponse is process_once's result.
type RunResponse struct {
	Processed bool
	TaskID    *int64
	Message   string
}

// Service claims and executes at most one task per ProcessOnce call.
type Service struct {
	Repos       *store.Repos
	Executors   *executor.Registry
	Settings    config.Settings
	Clock       policy.Clock
	Logger      *slog.Logger
	Instruments telemetry.Instruments
}

// New builds a worker Service. logger may be nil, in which case slog's
// current default logger is used.
func New(repos *store.Repos, executors *executor.Registry, settings config.Settings, clock policy.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = policy.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Repos: repos, Executors: executors, Settings: settings, Clock: clock, Logger: logger}
}

func ticketView(t *store.Ticket) policy.TicketView {
	return policy.TicketView{
		Stage:            t.Stage,
		Paused:           t.Paused,
		ApprovalRequired: t.ApprovalRequired,
		ApprovalStatus:   t.ApprovalStatus,
		CompletedAt:      t.CompletedAt,
	}
}

func taskViews(tasks []store.Task) []policy.TaskView {
	out := make([]policy.TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, policy.TaskView{State: t.State})
	}
	return out
}

// syncTicketState re-derives (stage, status, completed_at) for ticket from
// the current state of its tasks and persists the result.
func (s *Service) syncTicketState(ctx context.Context, tx *sqlx.Tx, ticket *store.Ticket) error {
	tasks, err := s.Repos.Tasks.ListForTicket(ctx, tx, ticket.TicketID)
	if err != nil {
		return err
	}
	now := s.Clock.Now()
	resolved := policy.Resolve(ticketView(ticket), taskViews(tasks))
	ticket.Stage = resolved.Stage
	ticket.Status = resolved.Status
	ticket.CompletedAt = resolved.CompletedAt
	ticket.UpdatedAt = now
	return s.Repos.Tickets.Update(ctx, tx, ticket)
}

func int64Ptr(v int64) *int64 { return &v }
