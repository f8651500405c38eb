package schedule

import (
	"strconv"
	"time"
)

// CreateRequest is the input to CreateSchedule, with the same bounds the
// original schema enforces via pydantic Field constraints.
type CreateRequest struct {
	ScheduleKey     string
	FirstRunAt      *time.Time
	IntervalSeconds *int
	TicketTitle     *string
	WorkflowKey     *string
	WorkflowVersion *string
	WorkflowInput   map[string]any
	ContextData     map[string]any
	SourceType      *string
	TaskKey         *string
	TaskPayload     map[string]any
	TaskMaxAttempts *int
}

func (r CreateRequest) validate() error {
	if r.ScheduleKey == "" {
		return &ValidationError{Reason: "schedule_key must not be empty"}
	}
	if r.IntervalSeconds == nil && r.FirstRunAt == nil {
		return &ValidationError{Reason: "either first_run_at or interval_seconds must be provided"}
	}
	if err := boundedOptional("interval_seconds", r.IntervalSeconds, 1, 86400*365); err != nil {
		return err
	}
	if err := boundedOptional("task_max_attempts", r.TaskMaxAttempts, 1, 20); err != nil {
		return err
	}
	return nil
}

func boundedOptional(field string, v *int, min, max int) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return &ValidationError{Reason: field + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)}
	}
	return nil
}

// Summary is the serialized view of a schedule row.
type Summary struct {
	ID              int64
	ScheduleKey     string
	Active          bool
	NextRunAt       *time.Time
	IntervalSeconds *int
	TicketTitle     *string
	WorkflowKey     *string
	WorkflowVersion *string
	WorkflowInput   map[string]any
	ContextData     map[string]any
	SourceType      *string
	TaskKey         *string
	TaskPayload     map[string]any
	TaskMaxAttempts *int
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
