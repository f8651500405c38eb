package executor

import (
	"context"

	"github.com/evercore/orchestrator/internal/store"
)

// Noop always succeeds immediately, carrying its payload through as
// output. Grounded on the original's NoopExecutor; used throughout the
// happy-path test scenarios.
type Noop struct{}

func (Noop) Execute(_ context.Context, _ *store.Ticket, task *store.Task) (Result, error) {
	return Result{Success: true, Message: "noop", Output: map[string]any(task.Payload)}, nil
}
