package executor

import (
	"context"

	"github.com/evercore/orchestrator/internal/store"
)

// AgentRuntime is the seam the out-of-scope LLM-calling executors
// (LemlemPromptExecutor / LemlemAgentJsonExecutor in the original) would
// plug into. No concrete implementation ships here — only the interface,
// so the registry keeps the original's three-executor shape without
// pulling in any LLM SDK.
type AgentRuntime interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// AgentStub occupies the task_key slot an LLM-backed executor would use.
// Without a configured Runtime it reports a terminal failure rather than
// silently no-opping, so a misconfigured workflow fails fast.
type AgentStub struct {
	Runtime AgentRuntime
}

func (a *AgentStub) Execute(ctx context.Context, _ *store.Ticket, task *store.Task) (Result, error) {
	if a.Runtime == nil {
		return Result{TerminalFailure: true, Message: "agent_stub: no AgentRuntime configured"}, nil
	}
	prompt, _ := task.Payload["prompt"].(string)
	out, err := a.Runtime.Run(ctx, prompt)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return Result{Success: true, Message: "agent run complete", Output: map[string]any{"response": out}}, nil
}
