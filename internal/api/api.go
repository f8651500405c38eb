// Package api is the thin HTTP admin surface over internal/ticketsvc and
// internal/schedule: a net/http.ServeMux of JSON endpoints, the same shape
// the donor's main.go wires its own /v1/workflows and /v1/run handlers
// through, generalized into one router builder instead of one inline func.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/evercore/orchestrator/internal/schedule"
	"github.com/evercore/orchestrator/internal/ticketsvc"
)

// Server wires ticketsvc/schedule onto a ServeMux.
type Server struct {
	Tickets   *ticketsvc.Service
	Schedules *schedule.Service
	Logger    *slog.Logger
}

// New builds a Server. logger may be nil, in which case slog's default
// logger is used.
func New(tickets *ticketsvc.Service, schedules *schedule.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Tickets: tickets, Schedules: schedules, Logger: logger}
}

// Mux builds the full route table. promHandler, if non-nil, is mounted at
// /metrics the same way the donor's main.go conditionally mounts its
// Prometheus handler.
func (s *Server) Mux(promHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if promHandler != nil {
		mux.Handle("/metrics", promHandler)
	}

	mux.HandleFunc("/v1/tickets", s.handleTickets)
	mux.HandleFunc("/v1/tickets/", s.handleTicketSubroutes)
	mux.HandleFunc("/v1/schedules", s.handleSchedules)
	mux.HandleFunc("/v1/schedules/", s.handleScheduleSubroutes)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var notFound *ticketsvc.NotFoundError
	var scheduleNotFound *schedule.NotFoundError
	var validation *ticketsvc.ValidationError
	var scheduleValidation *schedule.ValidationError
	var transition *ticketsvc.TransitionError

	switch {
	case errors.As(err, &notFound), errors.As(err, &scheduleNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &validation), errors.As(err, &scheduleValidation), errors.As(err, &transition):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

// ticketIDAndTail splits "/v1/tickets/<id>/<tail...>" into its id and
// remaining path segments.
func ticketIDAndTail(path string) (string, string) {
	rest := strings.TrimPrefix(path, "/v1/tickets/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// scheduleIDAndTail splits "/v1/schedules/<id>/<tail...>" into its id and
// remaining path segments.
func scheduleIDAndTail(path string) (string, string) {
	rest := strings.TrimPrefix(path, "/v1/schedules/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
