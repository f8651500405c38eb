package api

import (
	"context"
	"net/http"

	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/ticketsvc"
)

type ticketCreateWire struct {
	Title           *string        `json:"title"`
	SourceType      *string        `json:"source_type"`
	WorkflowKey     string         `json:"workflow_key"`
	WorkflowVersion *string        `json:"workflow_version"`
	WorkflowInput   map[string]any `json:"workflow_input"`
	ContextData     map[string]any `json:"context_data"`
}

type taskCreateWire struct {
	TaskKey          string         `json:"task_key"`
	Payload          map[string]any `json:"payload"`
	DependsOnTaskIDs []int64        `json:"depends_on_task_ids"`
	MaxAttempts      *int           `json:"max_attempts"`
	RetryBaseSeconds *int           `json:"retry_base_seconds"`
	RetryMaxSeconds  *int           `json:"retry_max_seconds"`
	TimeoutSeconds   *int           `json:"timeout_seconds"`
}

type transitionWire struct {
	TargetStage       string         `json:"target_stage"`
	TransitionContext map[string]any `json:"transition_context"`
}

type approvalWire struct {
	Notes *string `json:"notes"`
}

type eventCreateWire struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var wire ticketCreateWire
		if err := decodeJSON(r, &wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		ticket, err := s.Tickets.CreateTicket(r.Context(), ticketsvc.TicketCreateRequest{
			Title:           wire.Title,
			SourceType:      wire.SourceType,
			WorkflowKey:     wire.WorkflowKey,
			WorkflowVersion: wire.WorkflowVersion,
			WorkflowInput:   wire.WorkflowInput,
			ContextData:     wire.ContextData,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := s.Tickets.GetTicketSummary(r.Context(), ticket.TicketID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	case http.MethodGet:
		summaries, err := s.Tickets.ListTicketSummaries(r.Context(), 200)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTicketSubroutes(w http.ResponseWriter, r *http.Request) {
	ticketID, tail := ticketIDAndTail(r.URL.Path)
	if ticketID == "" {
		http.NotFound(w, r)
		return
	}

	switch tail {
	case "":
		s.handleTicketByID(w, r, ticketID)
	case "tasks":
		s.handleCreateTask(w, r, ticketID)
	case "pause":
		s.handleTicketMutation(w, r, ticketID, func(ctx context.Context) (*store.Ticket, error) {
			return s.Tickets.PauseTicket(ctx, ticketID)
		})
	case "resume":
		s.handleTicketMutation(w, r, ticketID, func(ctx context.Context) (*store.Ticket, error) {
			return s.Tickets.ResumeTicket(ctx, ticketID)
		})
	case "transition":
		s.handleTransition(w, r, ticketID)
	case "events":
		s.handleTicketEvents(w, r, ticketID)
	case "approval/request":
		s.handleApprovalAction(w, r, ticketID, s.Tickets.RequestApproval)
	case "approval/approve":
		s.handleApprovalAction(w, r, ticketID, s.Tickets.ApproveTicket)
	case "approval/reject":
		s.handleApprovalAction(w, r, ticketID, s.Tickets.RejectTicket)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTicketByID(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.Tickets.GetTicketSummary(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found: " + ticketID})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var wire taskCreateWire
	if err := decodeJSON(r, &wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	task, err := s.Tickets.CreateTask(r.Context(), ticketID, ticketsvc.TaskCreateRequest{
		TaskKey:          wire.TaskKey,
		Payload:          wire.Payload,
		DependsOnTaskIDs: wire.DependsOnTaskIDs,
		MaxAttempts:      wire.MaxAttempts,
		RetryBaseSeconds: wire.RetryBaseSeconds,
		RetryMaxSeconds:  wire.RetryMaxSeconds,
		TimeoutSeconds:   wire.TimeoutSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleTicketMutation runs a no-body POST mutation (pause/resume) and
// responds with the refreshed ticket summary.
func (s *Server) handleTicketMutation(w http.ResponseWriter, r *http.Request, ticketID string, mutate func(ctx context.Context) (*store.Ticket, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := mutate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.Tickets.GetTicketSummary(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleApprovalAction(w http.ResponseWriter, r *http.Request, ticketID string, action func(ctx context.Context, ticketID string, notes *string) (*store.Ticket, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var wire approvalWire
	if err := decodeJSON(r, &wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if _, err := action(r.Context(), ticketID, wire.Notes); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.Tickets.GetTicketSummary(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var wire transitionWire
	if err := decodeJSON(r, &wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	_, err := s.Tickets.TransitionTicket(r.Context(), ticketID, ticketsvc.TransitionRequest{
		TargetStage:       wire.TargetStage,
		TransitionContext: wire.TransitionContext,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.Tickets.GetTicketSummary(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	switch r.Method {
	case http.MethodPost:
		var wire eventCreateWire
		if err := decodeJSON(r, &wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		event, err := s.Tickets.PublishEvent(r.Context(), ticketID, wire.EventType, wire.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, event)
	case http.MethodGet:
		events, err := s.Tickets.GetTicketEvents(r.Context(), ticketID, 200)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
