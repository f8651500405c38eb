// Package store holds the Postgres-backed entities and repositories behind
// the seven tables the orchestrator reads and writes: tickets, tasks, task
// dependencies, task logs, worker heartbeats, ticket events, and ticket
// schedules.
package store

import "time"

// JSONMap is a JSON-bag column decoded into a plain Go map.
type JSONMap map[string]any

// Ticket mirrors the tickets table.
type Ticket struct {
	ID                   int64     `db:"id"`
	TicketID             string    `db:"ticket_id"`
	Title                *string   `db:"title"`
	WorkflowKey          string    `db:"workflow_key"`
	WorkflowVersion      *string   `db:"workflow_version"`
	WorkflowInput        JSONMap   `db:"workflow_input"`
	Stage                string    `db:"stage"`
	Status               string    `db:"status"`
	Paused               bool      `db:"paused"`
	PausedAt             *time.Time `db:"paused_at"`
	ResumedAt            *time.Time `db:"resumed_at"`
	ApprovalRequired     bool      `db:"approval_required"`
	ApprovalStatus       string    `db:"approval_status"`
	ApprovalRequestedAt  *time.Time `db:"approval_requested_at"`
	ApprovalDecidedAt    *time.Time `db:"approval_decided_at"`
	ApprovalNotes        *string   `db:"approval_notes"`
	SourceType           *string   `db:"source_type"`
	ContextData          JSONMap   `db:"context_data"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
	CompletedAt          *time.Time `db:"completed_at"`
}

// Task mirrors the tasks table.
type Task struct {
	ID                int64      `db:"id"`
	TicketID          string     `db:"ticket_id"`
	TaskKey           string     `db:"task_key"`
	State             string     `db:"state"`
	Payload           JSONMap    `db:"payload"`
	ResultData        JSONMap    `db:"result_data"`
	ErrorMessage      *string    `db:"error_message"`
	CancelRequested   bool       `db:"cancel_requested"`
	CancelRequestedAt *time.Time `db:"cancel_requested_at"`
	AttemptCount      int        `db:"attempt_count"`
	MaxAttempts       int        `db:"max_attempts"`
	RetryBaseSeconds  *int       `db:"retry_base_seconds"`
	RetryMaxSeconds   *int       `db:"retry_max_seconds"`
	TimeoutSeconds    *int       `db:"timeout_seconds"`
	NextRunAt         *time.Time `db:"next_run_at"`
	ClaimedBy         *string    `db:"claimed_by"`
	ClaimedAt         *time.Time `db:"claimed_at"`
	LeaseExpiresAt    *time.Time `db:"lease_expires_at"`
	CreatedAt         time.Time  `db:"created_at"`
	StartedAt         *time.Time `db:"started_at"`
	CompletedAt       *time.Time `db:"completed_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// TaskDependency mirrors the task_dependencies table: a directed edge
// task_id -> depends_on_task_id.
type TaskDependency struct {
	ID               int64     `db:"id"`
	TaskID           int64     `db:"task_id"`
	DependsOnTaskID  int64     `db:"depends_on_task_id"`
	CreatedAt        time.Time `db:"created_at"`
}

// TaskLog mirrors the task_logs table.
type TaskLog struct {
	ID        int64     `db:"id"`
	TaskID    int64     `db:"task_id"`
	LogType   string    `db:"log_type"`
	Message   string    `db:"message"`
	Details   JSONMap   `db:"details"`
	Success   *bool     `db:"success"`
	CreatedAt time.Time `db:"created_at"`
}

// WorkerHeartbeat mirrors the worker_heartbeats table.
type WorkerHeartbeat struct {
	ID            int64     `db:"id"`
	WorkerID      string    `db:"worker_id"`
	State         string    `db:"state"`
	CurrentTaskID *int64    `db:"current_task_id"`
	LastSeenAt    time.Time `db:"last_seen_at"`
}

// TicketEvent mirrors the ticket_events table.
type TicketEvent struct {
	ID               int64      `db:"id"`
	TicketID         string     `db:"ticket_id"`
	EventType        string     `db:"event_type"`
	Payload          JSONMap    `db:"payload"`
	ConsumedAt       *time.Time `db:"consumed_at"`
	ConsumedByTaskID *int64     `db:"consumed_by_task_id"`
	CreatedAt        time.Time  `db:"created_at"`
}

// TicketSchedule mirrors the ticket_schedules table.
type TicketSchedule struct {
	ID               int64      `db:"id"`
	ScheduleKey      string     `db:"schedule_key"`
	Active           bool       `db:"active"`
	NextRunAt        *time.Time `db:"next_run_at"`
	IntervalSeconds  *int       `db:"interval_seconds"`
	TicketTitle      *string    `db:"ticket_title"`
	WorkflowKey      *string    `db:"workflow_key"`
	WorkflowVersion  *string    `db:"workflow_version"`
	WorkflowInput    JSONMap    `db:"workflow_input"`
	ContextData      JSONMap    `db:"context_data"`
	SourceType       *string    `db:"source_type"`
	TaskKey          *string    `db:"task_key"`
	TaskPayload      JSONMap    `db:"task_payload"`
	TaskMaxAttempts  *int       `db:"task_max_attempts"`
	LastRunAt        *time.Time `db:"last_run_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}
