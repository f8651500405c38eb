// Package ticketsvc owns ticket and task lifecycle mutations: creation,
// pause/resume, approval decisions, stage transitions, the event inbox, and
// summary serialization. Every mutation runs inside one short transaction
// via the repos' WithTx helper and sets the ticket's stage and status
// directly; the policy-derived ticket state (internal/policy) is applied
// by the worker.
package ticketsvc

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/notify"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/telemetry"
	"github.com/evercore/orchestrator/internal/workflow"
)

// Service implements the ticket/task API surface the HTTP admin layer and
// CLI sit on top of.
type Service struct {
	Repos              *store.Repos
	Workflows          workflow.DefinitionLoader
	DefaultWorkflowKey string
	DefaultMaxAttempts int
	Clock              policy.Clock
	Instruments        telemetry.Instruments
	Notifier           *notify.Publisher
}

// New builds a Service. clock may be nil, in which case policy.SystemClock
// is used.
func New(repos *store.Repos, workflows workflow.DefinitionLoader, defaultWorkflowKey string, defaultMaxAttempts int, clock policy.Clock) *Service {
	if clock == nil {
		clock = policy.SystemClock{}
	}
	return &Service{
		Repos:              repos,
		Workflows:          workflows,
		DefaultWorkflowKey: defaultWorkflowKey,
		DefaultMaxAttempts: defaultMaxAttempts,
		Clock:              clock,
	}
}

func newTicketID() string {
	id := uuid.New()
	return "tkt-" + hex.EncodeToString(id[:])[:10]
}

// CreateTicket inserts a new ticket at its workflow's initial stage.
func (s *Service) CreateTicket(ctx context.Context, req TicketCreateRequest) (*store.Ticket, error) {
	workflowKey := strings.TrimSpace(req.WorkflowKey)
	if workflowKey == "" {
		workflowKey = s.DefaultWorkflowKey
	}
	def, err := s.Workflows.Load(workflowKey)
	if err != nil {
		return nil, err
	}

	version := def.Version
	if req.WorkflowVersion != nil && *req.WorkflowVersion != "" {
		version = *req.WorkflowVersion
	}

	now := s.Clock.Now()
	ticket := &store.Ticket{
		TicketID:         newTicketID(),
		Title:            req.Title,
		SourceType:       req.SourceType,
		WorkflowKey:      def.Key,
		WorkflowVersion:  &version,
		WorkflowInput:    store.JSONMap(orEmpty(req.WorkflowInput)),
		ContextData:      store.JSONMap(orEmpty(req.ContextData)),
		Stage:            def.InitialStage,
		Status:           policy.StatusActive,
		ApprovalRequired: false,
		ApprovalStatus:   "none",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.Repos.Tickets.Insert(ctx, tx, ticket)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// CreateTask inserts a new task under an existing ticket, gating its
// initial state on the ticket's current pause/approval posture exactly as
// the ticket's own derived-state policy would.
func (s *Service) CreateTask(ctx context.Context, ticketID string, req TaskCreateRequest) (*store.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var task *store.Task
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}

		now := s.Clock.Now()
		initialState := "queued"
		if ticket.Paused {
			initialState = "paused"
		} else if ticket.ApprovalRequired && ticket.ApprovalStatus == "pending" {
			initialState = "blocked"
		}

		maxAttempts := s.DefaultMaxAttempts
		if req.MaxAttempts != nil {
			maxAttempts = *req.MaxAttempts
		}

		t := &store.Task{
			TicketID:         ticket.TicketID,
			TaskKey:          req.TaskKey,
			State:            initialState,
			Payload:          store.JSONMap(orEmpty(req.Payload)),
			ResultData:       store.JSONMap{},
			MaxAttempts:      maxAttempts,
			RetryBaseSeconds: req.RetryBaseSeconds,
			RetryMaxSeconds:  req.RetryMaxSeconds,
			TimeoutSeconds:   req.TimeoutSeconds,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.Repos.Tasks.Insert(ctx, tx, t); err != nil {
			return err
		}

		deps := make([]int64, 0, len(req.DependsOnTaskIDs))
		for _, d := range req.DependsOnTaskIDs {
			if d > 0 {
				deps = append(deps, d)
			}
		}
		if err := store.InsertDependencies(ctx, tx, s.Repos.DB, t.ID, deps, now); err != nil {
			return err
		}

		switch initialState {
		case "blocked":
			ticket.Stage = "pending_approval"
			ticket.Status = policy.StatusWaitingApproval
		case "paused":
			ticket.Status = policy.StatusPaused
		default:
			ticket.Stage = "running"
			ticket.Status = policy.StatusActive
		}
		ticket.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, ticket); err != nil {
			return err
		}

		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// TransitionTicket evaluates the current stage's outgoing transitions and
// moves the ticket to the first one whose guard expression holds, optionally
// constrained to a specific target_stage.
func (s *Service) TransitionTicket(ctx context.Context, ticketID string, req TransitionRequest) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}

		def, err := s.Workflows.Load(t.WorkflowKey)
		if err != nil {
			return err
		}
		stageDef := def.StageByID(t.Stage)
		if stageDef == nil {
			return &TransitionError{Reason: "current stage '" + t.Stage + "' is not defined in workflow '" + def.Key + "'"}
		}

		lc := workflow.LookupContext{
			Ticket:            ticketAsMap(t),
			WorkflowInput:     map[string]any(t.WorkflowInput),
			TransitionContext: req.TransitionContext,
		}

		var chosen *workflow.StageTransition
		for i := range stageDef.Transitions {
			tr := &stageDef.Transitions[i]
			if req.TargetStage != "" && tr.Target != req.TargetStage {
				continue
			}
			if workflow.EvaluateWhen(tr.When, lc) {
				chosen = tr
				break
			}
		}
		if chosen == nil {
			if req.TargetStage != "" {
				return &TransitionError{Reason: "transition to '" + req.TargetStage + "' is not allowed from stage '" + t.Stage + "'"}
			}
			return &TransitionError{Reason: "no valid transition from stage '" + t.Stage + "'"}
		}

		now := s.Clock.Now()
		t.Stage = chosen.Target
		switch {
		case t.Stage == "finished":
			t.Status = policy.StatusCompleted
			if t.CompletedAt == nil {
				t.CompletedAt = &now
			}
		case t.Stage == "pending_approval":
			t.ApprovalRequired = true
			if t.ApprovalStatus == "none" {
				t.ApprovalStatus = "pending"
			}
			t.Status = policy.StatusWaitingApproval
		case t.Paused:
			t.Status = policy.StatusPaused
		default:
			t.Status = policy.StatusActive
		}
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// RequestApproval marks a ticket as awaiting an approval decision and
// blocks any task still queued to run under it.
func (s *Service) RequestApproval(ctx context.Context, ticketID string, notes *string) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}

		now := s.Clock.Now()
		t.ApprovalRequired = true
		t.ApprovalStatus = "pending"
		if t.ApprovalRequestedAt == nil {
			t.ApprovalRequestedAt = &now
		}
		t.ApprovalDecidedAt = nil
		t.ApprovalNotes = notes
		t.Stage = "pending_approval"
		t.Status = policy.StatusWaitingApproval
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}

		tasks, err := s.Repos.Tasks.ListForTicket(ctx, tx, t.TicketID)
		if err != nil {
			return err
		}
		for i := range tasks {
			task := &tasks[i]
			if task.State != "queued" && task.State != "retrying" {
				continue
			}
			task.State = "blocked"
			task.NextRunAt = nil
			task.UpdatedAt = now
			if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
				return err
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ApproveTicket records an approval decision and releases any task that
// was blocked awaiting it, provided the ticket is not itself paused.
func (s *Service) ApproveTicket(ctx context.Context, ticketID string, notes *string) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}

		now := s.Clock.Now()
		t.ApprovalRequired = true
		t.ApprovalStatus = "approved"
		t.ApprovalDecidedAt = &now
		t.ApprovalNotes = notes
		if t.Stage == "pending_approval" {
			t.Stage = "running"
		}
		if t.Paused {
			t.Status = policy.StatusPaused
		} else {
			t.Status = policy.StatusActive
		}
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}

		if !t.Paused {
			tasks, err := s.Repos.Tasks.ListForTicket(ctx, tx, t.TicketID)
			if err != nil {
				return err
			}
			for i := range tasks {
				task := &tasks[i]
				if task.State != "blocked" {
					continue
				}
				task.State = "queued"
				task.NextRunAt = &now
				task.UpdatedAt = now
				if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
					return err
				}
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// RejectTicket records a rejection decision, sending the ticket to review.
func (s *Service) RejectTicket(ctx context.Context, ticketID string, notes *string) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}
		now := s.Clock.Now()
		t.ApprovalRequired = true
		t.ApprovalStatus = "rejected"
		t.ApprovalDecidedAt = &now
		t.ApprovalNotes = notes
		t.Stage = "review"
		t.Status = policy.StatusAttention
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// PauseTicket parks every eligible task and cooperatively cancels any task
// currently running.
func (s *Service) PauseTicket(ctx context.Context, ticketID string) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}
		now := s.Clock.Now()
		t.Paused = true
		t.PausedAt = &now
		t.Status = policy.StatusPaused
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}

		tasks, err := s.Repos.Tasks.ListForTicket(ctx, tx, t.TicketID)
		if err != nil {
			return err
		}
		for i := range tasks {
			task := &tasks[i]
			switch task.State {
			case "queued", "retrying", "blocked":
				task.State = "paused"
				task.NextRunAt = nil
				task.UpdatedAt = now
				if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
					return err
				}
			case "running":
				task.CancelRequested = true
				task.CancelRequestedAt = &now
				task.UpdatedAt = now
				if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
					return err
				}
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ResumeTicket releases a paused ticket, sending its parked tasks back to
// queued (or blocked, if an approval is still pending).
func (s *Service) ResumeTicket(ctx context.Context, ticketID string) (*store.Ticket, error) {
	var ticket *store.Ticket
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.Repos.Tickets.GetByTicketIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}
		now := s.Clock.Now()
		t.Paused = false
		t.ResumedAt = &now
		approvalPending := t.ApprovalRequired && t.ApprovalStatus == "pending"
		switch {
		case approvalPending:
			t.Stage = "pending_approval"
			t.Status = policy.StatusWaitingApproval
		case t.Stage != "finished":
			t.Status = policy.StatusActive
		}
		t.UpdatedAt = now
		if err := s.Repos.Tickets.Update(ctx, tx, t); err != nil {
			return err
		}

		tasks, err := s.Repos.Tasks.ListForTicket(ctx, tx, t.TicketID)
		if err != nil {
			return err
		}
		for i := range tasks {
			task := &tasks[i]
			if task.State != "paused" {
				continue
			}
			if approvalPending {
				task.State = "blocked"
				task.NextRunAt = nil
			} else {
				task.State = "queued"
				task.NextRunAt = &now
			}
			task.UpdatedAt = now
			if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
				return err
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// PublishEvent appends an entry to a ticket's event inbox.
func (s *Service) PublishEvent(ctx context.Context, ticketID, eventType string, payload map[string]any) (*store.TicketEvent, error) {
	var event *store.TicketEvent
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.Repos.Tickets.GetByTicketID(ctx, tx, ticketID)
		if err != nil {
			if err == store.ErrNotFound {
				return &NotFoundError{TicketID: ticketID}
			}
			return err
		}
		now := s.Clock.Now()
		e := &store.TicketEvent{
			TicketID:  ticketID,
			EventType: strings.TrimSpace(eventType),
			Payload:   store.JSONMap(orEmpty(payload)),
			CreatedAt: now,
		}
		if err := s.Repos.Events.Add(ctx, tx, e); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Instruments.TicketEventsPublished != nil {
		s.Instruments.TicketEventsPublished.Add(ctx, 1)
	}
	s.Notifier.PublishTicketEvent(ctx, event.TicketID, event.EventType, map[string]any(event.Payload))
	return event, nil
}

// GetTicketEvents lists the most recent events in a ticket's inbox.
func (s *Service) GetTicketEvents(ctx context.Context, ticketID string, limit int) ([]store.TicketEvent, error) {
	_, err := s.Repos.Tickets.GetByTicketID(ctx, s.Repos.DB, ticketID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{TicketID: ticketID}
		}
		return nil, err
	}
	return s.Repos.Events.ListForTicket(ctx, s.Repos.DB, ticketID, limit)
}

// GetTicketSummary loads and serializes a ticket with its tasks.
func (s *Service) GetTicketSummary(ctx context.Context, ticketID string) (*TicketSummary, error) {
	ticket, err := s.Repos.Tickets.GetByTicketID(ctx, s.Repos.DB, ticketID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	tasks, err := s.Repos.Tasks.ListForTicket(ctx, s.Repos.DB, ticket.TicketID)
	if err != nil {
		return nil, err
	}
	summary := serializeTicket(ticket, tasks)
	return &summary, nil
}

// ListTicketSummaries loads and serializes the most recently created
// tickets, capped at limit.
func (s *Service) ListTicketSummaries(ctx context.Context, limit int) ([]TicketSummary, error) {
	tickets, err := s.Repos.Tickets.List(ctx, s.Repos.DB, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TicketSummary, 0, len(tickets))
	for i := range tickets {
		tasks, err := s.Repos.Tasks.ListForTicket(ctx, s.Repos.DB, tickets[i].TicketID)
		if err != nil {
			return nil, err
		}
		out = append(out, serializeTicket(&tickets[i], tasks))
	}
	return out, nil
}

func serializeTicket(t *store.Ticket, tasks []store.Task) TicketSummary {
	taskSummaries := make([]TaskSummary, 0, len(tasks))
	for _, task := range tasks {
		taskSummaries = append(taskSummaries, TaskSummary{
			ID:                task.ID,
			TicketID:          task.TicketID,
			TaskKey:           task.TaskKey,
			State:             task.State,
			Payload:           map[string]any(task.Payload),
			ResultData:        map[string]any(task.ResultData),
			ErrorMessage:      task.ErrorMessage,
			CancelRequested:   task.CancelRequested,
			CancelRequestedAt: task.CancelRequestedAt,
			AttemptCount:      task.AttemptCount,
			MaxAttempts:       task.MaxAttempts,
			RetryBaseSeconds:  task.RetryBaseSeconds,
			RetryMaxSeconds:   task.RetryMaxSeconds,
			TimeoutSeconds:    task.TimeoutSeconds,
			NextRunAt:         task.NextRunAt,
			ClaimedBy:         task.ClaimedBy,
			ClaimedAt:         task.ClaimedAt,
			LeaseExpiresAt:    task.LeaseExpiresAt,
			CreatedAt:         task.CreatedAt,
			StartedAt:         task.StartedAt,
			CompletedAt:       task.CompletedAt,
			UpdatedAt:         task.UpdatedAt,
		})
	}

	approvalStatus := t.ApprovalStatus
	if approvalStatus == "" {
		approvalStatus = "none"
	}

	return TicketSummary{
		ID:                  t.ID,
		TicketID:            t.TicketID,
		Title:               t.Title,
		WorkflowKey:         t.WorkflowKey,
		WorkflowVersion:     t.WorkflowVersion,
		WorkflowInput:       map[string]any(t.WorkflowInput),
		Stage:               t.Stage,
		Status:              t.Status,
		Paused:              t.Paused,
		PausedAt:            t.PausedAt,
		ResumedAt:           t.ResumedAt,
		ApprovalRequired:    t.ApprovalRequired,
		ApprovalStatus:      approvalStatus,
		ApprovalRequestedAt: t.ApprovalRequestedAt,
		ApprovalDecidedAt:   t.ApprovalDecidedAt,
		ApprovalNotes:       t.ApprovalNotes,
		SourceType:          t.SourceType,
		ContextData:         map[string]any(t.ContextData),
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		CompletedAt:         t.CompletedAt,
		Tasks:               taskSummaries,
	}
}

// ticketAsMap exposes every ticket column to a guard expression, mirroring
// the original's vars(ticket) lookup through ticket.X rather than a curated
// subset.
func ticketAsMap(t *store.Ticket) map[string]any {
	return map[string]any{
		"id":                    t.ID,
		"ticket_id":             t.TicketID,
		"title":                 derefString(t.Title),
		"workflow_key":          t.WorkflowKey,
		"workflow_version":      derefString(t.WorkflowVersion),
		"workflow_input":        map[string]any(t.WorkflowInput),
		"stage":                 t.Stage,
		"status":                t.Status,
		"paused":                t.Paused,
		"paused_at":             derefTime(t.PausedAt),
		"resumed_at":            derefTime(t.ResumedAt),
		"approval_required":     t.ApprovalRequired,
		"approval_status":       t.ApprovalStatus,
		"approval_requested_at": derefTime(t.ApprovalRequestedAt),
		"approval_decided_at":   derefTime(t.ApprovalDecidedAt),
		"approval_notes":        derefString(t.ApprovalNotes),
		"source_type":           derefString(t.SourceType),
		"context_data":          map[string]any(t.ContextData),
		"created_at":            t.CreatedAt.Format(time.RFC3339),
		"updated_at":            t.UpdatedAt.Format(time.RFC3339),
		"completed_at":          derefTime(t.CompletedAt),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// derefTime renders a nullable timestamp column the same way a guard would
// see it coming out of the original's JSON-serialized ticket: absent as
// null, present as an RFC3339 string comparable against a quoted literal.
func derefTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
