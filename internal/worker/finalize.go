package worker

import (
	"context"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
)

func (s *Service) addLog(ctx context.Context, tx *sqlx.Tx, taskID int64, logType, message string, details map[string]any, success *bool) error {
	l := &store.TaskLog{
		TaskID:    taskID,
		LogType:   logType,
		Message:   message,
		Details:   store.JSONMap(orEmptyMap(details)),
		Success:   success,
		CreatedAt: s.Clock.Now(),
	}
	return s.Repos.Logs.Add(ctx, tx, l)
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func boolPtr(v bool) *bool { return &v }

// markTaskTerminalFailure moves task straight to the failed state, no
// retry considered.
func (s *Service) markTaskTerminalFailure(ctx context.Context, tx *sqlx.Tx, task *store.Task, message string) error {
	now := s.Clock.Now()
	task.State = "failed"
	task.ErrorMessage = &message
	task.CompletedAt = &now
	task.UpdatedAt = now
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	task.NextRunAt = nil
	if err := s.addLog(ctx, tx, task.ID, "error", message, nil, boolPtr(false)); err != nil {
		return err
	}
	return s.Repos.Tasks.Update(ctx, tx, task)
}

// markTaskCancelled moves task to cancelled, the terminal state for a
// cooperative cancel that the worker observed before or during execution.
func (s *Service) markTaskCancelled(ctx context.Context, tx *sqlx.Tx, task *store.Task) error {
	now := s.Clock.Now()
	msg := "cancel requested"
	task.State = "cancelled"
	task.ErrorMessage = &msg
	task.CompletedAt = &now
	task.UpdatedAt = now
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	task.NextRunAt = nil
	if err := s.addLog(ctx, tx, task.ID, "warning", "task cancelled after cancel request", nil, boolPtr(false)); err != nil {
		return err
	}
	if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
		return err
	}
	if s.Instruments.TasksCancelled != nil {
		s.Instruments.TasksCancelled.Add(ctx, 1)
	}
	return nil
}

func (s *Service) retryPolicy(task *store.Task) (int, int) {
	base := s.Settings.RetryBaseSeconds
	if task.RetryBaseSeconds != nil {
		base = *task.RetryBaseSeconds
	}
	if base < 1 {
		base = 1
	}
	max_ := s.Settings.RetryMaxSeconds
	if task.RetryMaxSeconds != nil {
		max_ = *task.RetryMaxSeconds
	}
	if max_ < base {
		max_ = base
	}
	return base, max_
}

// finalizeRetryOrDeadLetter moves task to retrying (with backoff) or
// dead_letter once attempts are exhausted.
func (s *Service) finalizeRetryOrDeadLetter(ctx context.Context, tx *sqlx.Tx, task *store.Task, message string, details map[string]any) (RunResponse, error) {
	now := s.Clock.Now()
	attemptCount := task.AttemptCount
	maxAttempts := policy.NormalizeMaxAttempts(task.MaxAttempts, s.Settings.DefaultMaxAttempts)
	task.MaxAttempts = maxAttempts
	base, max_ := s.retryPolicy(task)

	if policy.ShouldDeadLetter(attemptCount, maxAttempts) {
		task.State = "dead_letter"
		task.ErrorMessage = &message
		task.CompletedAt = &now
		task.UpdatedAt = now
		task.ClaimedBy = nil
		task.ClaimedAt = nil
		task.LeaseExpiresAt = nil
		task.NextRunAt = nil
		logMsg := "dead-lettered after " + strconv.Itoa(attemptCount) + " attempts: " + message
		if err := s.addLog(ctx, tx, task.ID, "error", logMsg, details, boolPtr(false)); err != nil {
			return RunResponse{}, err
		}
		if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
			return RunResponse{}, err
		}
		if s.Instruments.TasksDeadLettered != nil {
			s.Instruments.TasksDeadLettered.Add(ctx, 1)
		}
		return RunResponse{Processed: true, TaskID: int64Ptr(task.ID), Message: logMsg}, nil
	}

	retryDelay := policy.ComputeRetryDelaySeconds(attemptCount, base, max_)
	task.State = "retrying"
	task.ErrorMessage = &message
	task.CompletedAt = nil
	task.UpdatedAt = now
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	nextRunAt := policy.ComputeNextRetryAt(now, attemptCount, base, max_)
	task.NextRunAt = &nextRunAt
	logMsg := "task failed, retrying in " + strconv.Itoa(retryDelay) + "s: " + message
	if err := s.addLog(ctx, tx, task.ID, "warning", logMsg, details, boolPtr(false)); err != nil {
		return RunResponse{}, err
	}
	if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
		return RunResponse{}, err
	}
	if s.Instruments.TasksRetried != nil {
		s.Instruments.TasksRetried.Add(ctx, 1)
	}
	return RunResponse{Processed: true, TaskID: int64Ptr(task.ID), Message: "retry scheduled in " + strconv.Itoa(retryDelay) + "s"}, nil
}

// finalizeDeferredTask reschedules task after deferSeconds without
// consuming a retry attempt, the gate an executor like wait_for_event uses
// to poll without busy-looping the claim query.
func (s *Service) finalizeDeferredTask(ctx context.Context, tx *sqlx.Tx, task *store.Task, message string, deferSeconds *int, details map[string]any) (RunResponse, error) {
	now := s.Clock.Now()
	delay := s.Settings.EventWaitPollIntervalSeconds
	if deferSeconds != nil && *deferSeconds > 0 {
		delay = *deferSeconds
	}
	if delay < 1 {
		delay = 1
	}
	task.State = "retrying"
	task.ErrorMessage = &message
	task.CompletedAt = nil
	task.UpdatedAt = now
	task.AttemptCount = maxInt(task.AttemptCount-1, 0)
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	nextRunAt := policy.ComputeNextRetryAt(now, 1, delay, delay)
	task.NextRunAt = &nextRunAt
	logMsg := "task deferred for " + strconv.Itoa(delay) + "s: " + message
	if err := s.addLog(ctx, tx, task.ID, "info", logMsg, details, nil); err != nil {
		return RunResponse{}, err
	}
	if err := s.Repos.Tasks.Update(ctx, tx, task); err != nil {
		return RunResponse{}, err
	}
	return RunResponse{Processed: true, TaskID: int64Ptr(task.ID), Message: "deferred for " + strconv.Itoa(delay) + "s"}, nil
}

func (s *Service) parkTaskForPause(ctx context.Context, tx *sqlx.Tx, task *store.Task) error {
	task.State = "paused"
	task.UpdatedAt = s.Clock.Now()
	task.NextRunAt = nil
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	return s.Repos.Tasks.Update(ctx, tx, task)
}

func (s *Service) parkTaskForApproval(ctx context.Context, tx *sqlx.Tx, task *store.Task) error {
	task.State = "blocked"
	task.UpdatedAt = s.Clock.Now()
	task.NextRunAt = nil
	task.ClaimedBy = nil
	task.ClaimedAt = nil
	task.LeaseExpiresAt = nil
	return s.Repos.Tasks.Update(ctx, tx, task)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

