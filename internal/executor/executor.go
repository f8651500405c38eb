// Package executor defines the TaskExecutor contract and the registry that
// dispatches a task's task_key to a concrete implementation, plus the
// handful of built-in executors the specification names.
package executor

import (
	"context"
	"fmt"

	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/taskcontrol"
)

// Result is the outcome an executor reports back to the worker.
type Result struct {
	Success         bool
	Message         string
	Output          map[string]any
	Defer           bool
	DeferSeconds    *int
	TerminalFailure bool
}

// TaskExecutor is the narrow contract every executor must satisfy.
type TaskExecutor interface {
	Execute(ctx context.Context, ticket *store.Ticket, task *store.Task) (Result, error)
}

// ControlledTaskExecutor is the wider, optional contract: an executor that
// wants a cooperative stop signal for long-running work implements this
// instead of (or in addition to) TaskExecutor.
type ControlledTaskExecutor interface {
	TaskExecutor
	ExecuteWithControl(ctx context.Context, ticket *store.Ticket, task *store.Task, control *taskcontrol.Control) (Result, error)
}

// Registry dispatches from task_key to a registered TaskExecutor. It is
// the Go analogue of the donor's MultiTaskExecutor router, generalized
// from "task type" to "task_key".
type Registry struct {
	executors map[string]TaskExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]TaskExecutor)}
}

// Register associates taskKey with an executor. Registering the same key
// twice replaces the prior binding.
func (r *Registry) Register(taskKey string, ex TaskExecutor) {
	r.executors[taskKey] = ex
}

// ErrUnknownTaskKey is returned when no executor is registered for a key.
type ErrUnknownTaskKey struct{ TaskKey string }

func (e *ErrUnknownTaskKey) Error() string {
	return fmt.Sprintf("executor: no executor registered for task_key %q", e.TaskKey)
}

// Lookup returns the executor bound to taskKey, or ErrUnknownTaskKey.
func (r *Registry) Lookup(taskKey string) (TaskExecutor, error) {
	ex, ok := r.executors[taskKey]
	if !ok {
		return nil, &ErrUnknownTaskKey{TaskKey: taskKey}
	}
	return ex, nil
}

// Execute dispatches to the executor for task.TaskKey, preferring
// ExecuteWithControl when the executor and a non-nil control are both
// available, matching the capability-set dispatch the design notes call
// for.
func (r *Registry) Execute(ctx context.Context, ticket *store.Ticket, task *store.Task, control *taskcontrol.Control) (Result, error) {
	ex, err := r.Lookup(task.TaskKey)
	if err != nil {
		return Result{}, err
	}
	if controlled, ok := ex.(ControlledTaskExecutor); ok && control != nil {
		return controlled.ExecuteWithControl(ctx, ticket, task, control)
	}
	return ex.Execute(ctx, ticket, task)
}
