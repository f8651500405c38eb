// Package schedule materializes recurring or one-shot TicketSchedule rows
// into fresh tickets (and optionally a first task) once they come due.
package schedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/telemetry"
	"github.com/evercore/orchestrator/internal/ticketsvc"
)

// Service owns schedule CRUD and due-schedule materialization.
type Service struct {
	Repos              *store.Repos
	Tickets            *ticketsvc.Service
	DefaultWorkflowKey string
	Clock              policy.Clock
	Logger             *slog.Logger
	Instruments        telemetry.Instruments
}

// New builds a schedule Service. clock may be nil, in which case
// policy.SystemClock is used.
func New(repos *store.Repos, tickets *ticketsvc.Service, defaultWorkflowKey string, clock policy.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = policy.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Repos: repos, Tickets: tickets, DefaultWorkflowKey: defaultWorkflowKey, Clock: clock, Logger: logger}
}

// CreateSchedule inserts a new, active schedule, rejecting a duplicate
// schedule_key or a payload missing both first_run_at and interval_seconds.
func (s *Service) CreateSchedule(ctx context.Context, req CreateRequest) (*store.TicketSchedule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var row *store.TicketSchedule
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.Repos.Schedules.GetByKey(ctx, tx, req.ScheduleKey)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if existing != nil {
			return &ValidationError{Reason: "schedule already exists: " + req.ScheduleKey}
		}

		now := s.Clock.Now()
		firstRunAt := now
		if req.FirstRunAt != nil {
			firstRunAt = *req.FirstRunAt
		}
		workflowKey := req.WorkflowKey
		if workflowKey == nil || *workflowKey == "" {
			wk := s.DefaultWorkflowKey
			workflowKey = &wk
		}

		r := &store.TicketSchedule{
			ScheduleKey:     strings.TrimSpace(req.ScheduleKey),
			Active:          true,
			NextRunAt:       &firstRunAt,
			IntervalSeconds: req.IntervalSeconds,
			TicketTitle:     req.TicketTitle,
			WorkflowKey:     workflowKey,
			WorkflowVersion: req.WorkflowVersion,
			WorkflowInput:   store.JSONMap(orEmpty(req.WorkflowInput)),
			ContextData:     store.JSONMap(orEmpty(req.ContextData)),
			SourceType:      req.SourceType,
			TaskKey:         req.TaskKey,
			TaskPayload:     store.JSONMap(orEmpty(req.TaskPayload)),
			TaskMaxAttempts: req.TaskMaxAttempts,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.Repos.Schedules.Insert(ctx, tx, r); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ListSchedules returns the most recently created schedules, capped at
// limit.
func (s *Service) ListSchedules(ctx context.Context, limit int) ([]store.TicketSchedule, error) {
	return s.Repos.Schedules.List(ctx, s.Repos.DB, limit)
}

// PauseSchedule deactivates a schedule in place; it stops firing until
// resumed.
func (s *Service) PauseSchedule(ctx context.Context, scheduleID int64) (*store.TicketSchedule, error) {
	var row *store.TicketSchedule
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.Repos.Schedules.GetByIDForUpdate(ctx, tx, scheduleID)
		if err == store.ErrNotFound {
			return &NotFoundError{ScheduleID: scheduleID}
		} else if err != nil {
			return err
		}
		r.Active = false
		r.UpdatedAt = s.Clock.Now()
		if err := s.Repos.Schedules.Update(ctx, tx, r); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ResumeSchedule reactivates a schedule, defaulting next_run_at to now if
// it had none (e.g. a one-shot schedule that already fired).
func (s *Service) ResumeSchedule(ctx context.Context, scheduleID int64) (*store.TicketSchedule, error) {
	var row *store.TicketSchedule
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.Repos.Schedules.GetByIDForUpdate(ctx, tx, scheduleID)
		if err == store.ErrNotFound {
			return &NotFoundError{ScheduleID: scheduleID}
		} else if err != nil {
			return err
		}
		now := s.Clock.Now()
		r.Active = true
		if r.NextRunAt == nil {
			r.NextRunAt = &now
		}
		r.UpdatedAt = now
		if err := s.Repos.Schedules.Update(ctx, tx, r); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// TriggerScheduleOnce materializes scheduleID's ticket template immediately,
// regardless of next_run_at, and advances the schedule the same way a due
// firing would.
func (s *Service) TriggerScheduleOnce(ctx context.Context, scheduleID int64) (string, error) {
	var row *store.TicketSchedule
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.Repos.Schedules.GetByIDForUpdate(ctx, tx, scheduleID)
		if err == store.ErrNotFound {
			return &NotFoundError{ScheduleID: scheduleID}
		} else if err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return "", err
	}
	return s.runSchedule(ctx, row)
}

// ProcessDueSchedules claims a batch of due, active schedules under
// FOR UPDATE SKIP LOCKED and fires each in turn, returning how many were
// processed before any error (schedules already fired keep their effects;
// this mirrors the worker's own short-transaction-per-step discipline
// rather than one all-or-nothing batch).
func (s *Service) ProcessDueSchedules(ctx context.Context, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	now := s.Clock.Now()

	var due []store.TicketSchedule
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.Repos.Schedules.DueForUpdate(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		due = rows
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	processed := 0
	for i := range due {
		if _, err := s.runSchedule(ctx, &due[i]); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// runSchedule materializes row's ticket (and optional first task), then
// advances or deactivates the schedule depending on whether it is
// recurring.
func (s *Service) runSchedule(ctx context.Context, row *store.TicketSchedule) (string, error) {
	ticketCtx, endSpan := telemetry.WithSpan(ctx, "evercore.schedule.run")
	defer endSpan()

	workflowKey := ""
	if row.WorkflowKey != nil {
		workflowKey = *row.WorkflowKey
	}
	ticket, err := s.Tickets.CreateTicket(ticketCtx, ticketsvc.TicketCreateRequest{
		Title:           row.TicketTitle,
		SourceType:      row.SourceType,
		WorkflowKey:     workflowKey,
		WorkflowVersion: row.WorkflowVersion,
		WorkflowInput:   map[string]any(row.WorkflowInput),
		ContextData:     map[string]any(row.ContextData),
	})
	if err != nil {
		return "", err
	}

	if row.TaskKey != nil && *row.TaskKey != "" {
		if _, err := s.Tickets.CreateTask(ticketCtx, ticket.TicketID, ticketsvc.TaskCreateRequest{
			TaskKey:     *row.TaskKey,
			Payload:     map[string]any(row.TaskPayload),
			MaxAttempts: row.TaskMaxAttempts,
		}); err != nil {
			return "", err
		}
	}

	now := s.Clock.Now()
	err = s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		fresh, err := s.Repos.Schedules.GetByIDForUpdate(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		fresh.LastRunAt = &now
		if fresh.IntervalSeconds != nil && *fresh.IntervalSeconds > 0 {
			next := now.Add(time.Duration(*fresh.IntervalSeconds) * time.Second)
			fresh.NextRunAt = &next
			fresh.Active = true
		} else {
			fresh.NextRunAt = nil
			fresh.Active = false
		}
		fresh.UpdatedAt = now
		return s.Repos.Schedules.Update(ctx, tx, fresh)
	})
	if err != nil {
		return "", err
	}

	if s.Instruments.ScheduleRuns != nil {
		s.Instruments.ScheduleRuns.Add(ctx, 1)
	}
	s.Logger.Info("schedule fired", "schedule_key", row.ScheduleKey, "ticket_id", ticket.TicketID)
	return ticket.TicketID, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
