package ticketsvc

import (
	"strconv"
	"time"
)

// TicketCreateRequest is the input to CreateTicket.
type TicketCreateRequest struct {
	Title           *string
	SourceType      *string
	WorkflowKey     string
	WorkflowVersion *string
	WorkflowInput   map[string]any
	ContextData     map[string]any
}

// TaskCreateRequest is the input to CreateTask, with the same bounds the
// original schema enforces via pydantic Field constraints.
type TaskCreateRequest struct {
	TaskKey           string
	Payload           map[string]any
	DependsOnTaskIDs  []int64
	MaxAttempts       *int
	RetryBaseSeconds  *int
	RetryMaxSeconds   *int
	TimeoutSeconds    *int
}

func (r TaskCreateRequest) validate() error {
	if r.TaskKey == "" {
		return &ValidationError{Reason: "task_key must not be empty"}
	}
	if err := boundedOptional("max_attempts", r.MaxAttempts, 1, 20); err != nil {
		return err
	}
	if err := boundedOptional("retry_base_seconds", r.RetryBaseSeconds, 1, 86400); err != nil {
		return err
	}
	if err := boundedOptional("retry_max_seconds", r.RetryMaxSeconds, 1, 86400); err != nil {
		return err
	}
	if err := boundedOptional("timeout_seconds", r.TimeoutSeconds, 1, 86400); err != nil {
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

// TaskSummary is the serialized view of a task.
type TaskSummary struct {
	ID                int64
	TicketID          string
	TaskKey           string
	State             string
	Payload           map[string]any
	ResultData        map[string]any
	ErrorMessage      *string
	CancelRequested   bool
	CancelRequestedAt *time.Time
	AttemptCount      int
	MaxAttempts       int
	RetryBaseSeconds  *int
	RetryMaxSeconds   *int
	TimeoutSeconds    *int
	NextRunAt         *time.Time
	ClaimedBy         *string
	ClaimedAt         *time.Time
	LeaseExpiresAt    *time.Time
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// TicketSummary is the serialized view of a ticket and its tasks.
type TicketSummary struct {
	ID                  int64
	TicketID            string
	Title               *string
	WorkflowKey         string
	WorkflowVersion     *string
	WorkflowInput       map[string]any
	Stage               string
	Status              string
	Paused              bool
	PausedAt            *time.Time
	ResumedAt           *time.Time
	ApprovalRequired    bool
	ApprovalStatus      string
	ApprovalRequestedAt *time.Time
	ApprovalDecidedAt   *time.Time
	ApprovalNotes       *string
	SourceType          *string
	ContextData         map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
	Tasks               []TaskSummary
}

// TransitionRequest is the input to TransitionTicket.
type TransitionRequest struct {
	TargetStage       string
	TransitionContext map[string]any
}
