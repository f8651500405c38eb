package api

import (
	"net/http"
	"time"

	"github.com/evercore/orchestrator/internal/schedule"
)

type scheduleCreateWire struct {
	ScheduleKey     string         `json:"schedule_key"`
	FirstRunAt      *time.Time     `json:"first_run_at"`
	IntervalSeconds *int           `json:"interval_seconds"`
	TicketTitle     *string        `json:"ticket_title"`
	WorkflowKey     *string        `json:"workflow_key"`
	WorkflowVersion *string        `json:"workflow_version"`
	WorkflowInput   map[string]any `json:"workflow_input"`
	ContextData     map[string]any `json:"context_data"`
	SourceType      *string        `json:"source_type"`
	TaskKey         *string        `json:"task_key"`
	TaskPayload     map[string]any `json:"task_payload"`
	TaskMaxAttempts *int           `json:"task_max_attempts"`
}

type scheduleTriggerWire struct {
	ScheduleID       int64  `json:"schedule_id"`
	TriggeredTicketID string `json:"triggered_ticket_id"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var wire scheduleCreateWire
		if err := decodeJSON(r, &wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		row, err := s.Schedules.CreateSchedule(r.Context(), schedule.CreateRequest{
			ScheduleKey:     wire.ScheduleKey,
			FirstRunAt:      wire.FirstRunAt,
			IntervalSeconds: wire.IntervalSeconds,
			TicketTitle:     wire.TicketTitle,
			WorkflowKey:     wire.WorkflowKey,
			WorkflowVersion: wire.WorkflowVersion,
			WorkflowInput:   wire.WorkflowInput,
			ContextData:     wire.ContextData,
			SourceType:      wire.SourceType,
			TaskKey:         wire.TaskKey,
			TaskPayload:     wire.TaskPayload,
			TaskMaxAttempts: wire.TaskMaxAttempts,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	case http.MethodGet:
		rows, err := s.Schedules.ListSchedules(r.Context(), 200)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduleSubroutes(w http.ResponseWriter, r *http.Request) {
	rawID, tail := scheduleIDAndTail(r.URL.Path)
	scheduleID, err := parseID(rawID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid schedule id: " + rawID})
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch tail {
	case "pause":
		row, err := s.Schedules.PauseSchedule(r.Context(), scheduleID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case "resume":
		row, err := s.Schedules.ResumeSchedule(r.Context(), scheduleID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case "trigger":
		ticketID, err := s.Schedules.TriggerScheduleOnce(r.Context(), scheduleID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scheduleTriggerWire{ScheduleID: scheduleID, TriggeredTicketID: ticketID})
	default:
		http.NotFound(w, r)
	}
}
