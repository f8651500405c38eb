package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evercore/orchestrator/internal/executor"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/taskcontrol"
	"github.com/evercore/orchestrator/internal/telemetry"
)

// ProcessOnce claims and runs at most one task, returning whether it did
// any work. It is meant to be called in a loop by cmd/orchestratord's
// worker goroutine or cmd/orchestratorctl's "worker run" subcommand.
func (s *Service) ProcessOnce(ctx context.Context, workerID string) (RunResponse, error) {
	if workerID == "" {
		workerID = s.Settings.WorkerID
	}

	ctx, endSpan := telemetry.WithSpan(ctx, "evercore.worker.process_once")
	defer endSpan()
	start := s.Clock.Now()
	defer func() {
		if s.Instruments.ProcessOnceDurationMs != nil {
			elapsedMs := float64(s.Clock.Now().Sub(start).Milliseconds())
			s.Instruments.ProcessOnceDurationMs.Record(ctx, elapsedMs)
		}
	}()

	if err := s.reapStaleRunningTasks(ctx); err != nil {
		return RunResponse{}, err
	}

	var (
		task            *store.Task
		cancelledBefore int
	)
	err := s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.finalizeRequestedCancellations(ctx, tx)
		if err != nil {
			return err
		}
		cancelledBefore = n

		claimed, err := s.claimNextTask(ctx, tx, workerID)
		if err != nil {
			return err
		}
		task = claimed

		state := "working"
		var currentTaskID *int64
		if task == nil {
			state = "idle"
		} else {
			currentTaskID = int64Ptr(task.ID)
		}
		return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, state, currentTaskID, s.Clock.Now())
	})
	if err != nil {
		return RunResponse{}, err
	}

	if task == nil {
		if cancelledBefore > 0 {
			return RunResponse{Processed: true, Message: "cancelled " + strconv.Itoa(cancelledBefore) + " task(s)"}, nil
		}
		return RunResponse{Processed: false, Message: "no queued task"}, nil
	}

	taskID := task.ID
	ticketID := task.TicketID

	var (
		ticket   *store.Ticket
		shortCut *RunResponse
	)
	err = s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		live, err := s.Repos.Tasks.Get(ctx, tx, taskID)
		if err == store.ErrNotFound {
			shortCut = &RunResponse{Processed: false, TaskID: &taskID, Message: "claimed task missing"}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		} else if err != nil {
			return err
		}

		t, err := s.Repos.Tickets.GetByTicketID(ctx, tx, ticketID)
		if err == store.ErrNotFound {
			if err2 := s.markTaskTerminalFailure(ctx, tx, live, "missing ticket: "+ticketID); err2 != nil {
				return err2
			}
			msg := "missing ticket: " + ticketID
			shortCut = &RunResponse{Processed: true, TaskID: &taskID, Message: msg}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		} else if err != nil {
			return err
		}

		if t.Paused {
			if err := s.parkTaskForPause(ctx, tx, live); err != nil {
				return err
			}
			if err := s.syncTicketState(ctx, tx, t); err != nil {
				return err
			}
			shortCut = &RunResponse{Processed: true, TaskID: &taskID, Message: "ticket paused before execution"}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		}

		if t.ApprovalRequired && t.ApprovalStatus == "pending" {
			if err := s.parkTaskForApproval(ctx, tx, live); err != nil {
				return err
			}
			if err := s.syncTicketState(ctx, tx, t); err != nil {
				return err
			}
			shortCut = &RunResponse{Processed: true, TaskID: &taskID, Message: "ticket awaiting approval before execution"}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		}

		if live.CancelRequested {
			if err := s.markTaskCancelled(ctx, tx, live); err != nil {
				return err
			}
			if err := s.syncTicketState(ctx, tx, t); err != nil {
				return err
			}
			shortCut = &RunResponse{Processed: true, TaskID: &taskID, Message: "cancelled before execution"}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		}

		if _, lookupErr := s.Executors.Lookup(live.TaskKey); lookupErr != nil {
			msg := "unknown task_key: " + live.TaskKey
			if err := s.markTaskTerminalFailure(ctx, tx, live, msg); err != nil {
				return err
			}
			if err := s.syncTicketState(ctx, tx, t); err != nil {
				return err
			}
			shortCut = &RunResponse{Processed: true, TaskID: &taskID, Message: msg}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		}

		ticket = t
		return nil
	})
	if err != nil {
		return RunResponse{}, err
	}
	if shortCut != nil {
		return *shortCut, nil
	}

	return s.executeAndFinalize(ctx, workerID, taskID, ticket)
}

// executeAndFinalize runs the claimed task's executor outside of any
// transaction, renewing its lease on an independent goroutine meanwhile,
// then finalizes the result in a second short transaction.
func (s *Service) executeAndFinalize(ctx context.Context, workerID string, taskID int64, ticket *store.Ticket) (RunResponse, error) {
	leaseCtx, stopLease := context.WithCancel(ctx)
	leaseDone := make(chan struct{})
	go func() {
		defer close(leaseDone)
		s.leaseRenewerLoop(leaseCtx, taskID, workerID)
	}()

	liveTask, err := s.Repos.Tasks.Get(ctx, s.Repos.DB, taskID)
	if err != nil {
		stopLease()
		<-leaseDone
		return RunResponse{}, err
	}

	control := taskcontrol.New(s.Repos.DB, taskID, ticket.TicketID)
	var (
		result  executor.Result
		execErr error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				execErr = fmt.Errorf("panic: %v", p)
			}
		}()
		result, execErr = s.Executors.Execute(ctx, ticket, liveTask, control)
	}()

	stopLease()
	select {
	case <-leaseDone:
	case <-time.After(2 * time.Second):
	}

	var response RunResponse
	err = s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		live, err := s.Repos.Tasks.Get(ctx, tx, taskID)
		if err == store.ErrNotFound {
			response = RunResponse{Processed: true, TaskID: &taskID, Message: "task disappeared before finalization"}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		} else if err != nil {
			return err
		}

		liveTicket, err := s.Repos.Tickets.GetByTicketID(ctx, tx, ticket.TicketID)
		if err == store.ErrNotFound {
			if err2 := s.markTaskTerminalFailure(ctx, tx, live, "missing ticket: "+ticket.TicketID); err2 != nil {
				return err2
			}
			response = RunResponse{Processed: true, TaskID: &taskID, Message: "missing ticket: " + ticket.TicketID}
			return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
		} else if err != nil {
			return err
		}

		switch {
		case execErr != nil:
			r, ferr := s.finalizeRetryOrDeadLetter(ctx, tx, live, "execution raised: "+execErr.Error(), nil)
			if ferr != nil {
				return ferr
			}
			response = r
		case live.CancelRequested:
			if err := s.markTaskCancelled(ctx, tx, live); err != nil {
				return err
			}
			response = RunResponse{Processed: true, TaskID: &taskID, Message: "cancelled"}
		case result.Defer:
			msg := result.Message
			if msg == "" {
				msg = "deferred"
			}
			r, ferr := s.finalizeDeferredTask(ctx, tx, live, msg, result.DeferSeconds, result.Output)
			if ferr != nil {
				return ferr
			}
			response = r
		case result.Success:
			now := s.Clock.Now()
			live.State = "completed"
			live.ResultData = store.JSONMap(orEmptyMap(result.Output))
			live.ErrorMessage = nil
			live.CompletedAt = &now
			live.UpdatedAt = now
			live.ClaimedBy = nil
			live.ClaimedAt = nil
			live.LeaseExpiresAt = nil
			live.NextRunAt = nil
			msg := result.Message
			if msg == "" {
				msg = "task completed"
			}
			if err := s.addLog(ctx, tx, live.ID, "info", msg, result.Output, boolPtr(true)); err != nil {
				return err
			}
			if err := s.Repos.Tasks.Update(ctx, tx, live); err != nil {
				return err
			}
			if s.Instruments.TasksCompleted != nil {
				s.Instruments.TasksCompleted.Add(ctx, 1)
			}
			response = RunResponse{Processed: true, TaskID: &taskID, Message: "completed"}
		default:
			failureMessage := "task failed"
			if result.Message != "" {
				failureMessage = result.Message
			}
			if result.TerminalFailure {
				if err := s.markTaskTerminalFailure(ctx, tx, live, failureMessage); err != nil {
					return err
				}
				response = RunResponse{Processed: true, TaskID: &taskID, Message: failureMessage}
			} else {
				r, ferr := s.finalizeRetryOrDeadLetter(ctx, tx, live, failureMessage, result.Output)
				if ferr != nil {
					return ferr
				}
				response = r
			}
		}

		if err := s.syncTicketState(ctx, tx, liveTicket); err != nil {
			return err
		}
		return s.Repos.Heartbeats.Upsert(ctx, tx, workerID, "idle", nil, s.Clock.Now())
	})
	if err != nil {
		return RunResponse{}, err
	}
	return response, nil
}

// claimNextTask walks ClaimCandidates in order, parking or failing
// ineligible rows in place and claiming the first one whose ticket and
// dependencies allow it to run now.
func (s *Service) claimNextTask(ctx context.Context, tx *sqlx.Tx, workerID string) (*store.Task, error) {
	now := s.Clock.Now()
	candidates, err := s.Repos.Tasks.ClaimCandidates(ctx, tx, now, 50)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidate := &candidates[i]

		ticket, err := s.Repos.Tickets.GetByTicketID(ctx, tx, candidate.TicketID)
		if err == store.ErrNotFound {
			if err := s.markTaskTerminalFailure(ctx, tx, candidate, "missing ticket: "+candidate.TicketID); err != nil {
				return nil, err
			}
			continue
		} else if err != nil {
			return nil, err
		}

		if ticket.Paused {
			if err := s.parkTaskForPause(ctx, tx, candidate); err != nil {
				return nil, err
			}
			continue
		}
		if ticket.ApprovalRequired && ticket.ApprovalStatus == "pending" {
			if err := s.parkTaskForApproval(ctx, tx, candidate); err != nil {
				return nil, err
			}
			continue
		}

		satisfied, err := s.Repos.Tasks.DependenciesSatisfied(ctx, tx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			continue
		}

		candidate.MaxAttempts = policy.NormalizeMaxAttempts(candidate.MaxAttempts, s.Settings.DefaultMaxAttempts)
		candidate.State = "running"
		candidate.AttemptCount++
		candidate.StartedAt = &now
		candidate.UpdatedAt = now
		candidate.NextRunAt = nil
		candidate.ClaimedBy = &workerID
		candidate.ClaimedAt = &now
		leaseExpires := policy.LeaseExpiresAt(now, maxInt(s.Settings.TaskLeaseSeconds, 10))
		candidate.LeaseExpiresAt = &leaseExpires
		if err := s.Repos.Tasks.Update(ctx, tx, candidate); err != nil {
			return nil, err
		}
		if s.Instruments.TasksClaimed != nil {
			s.Instruments.TasksClaimed.Add(ctx, 1)
		}
		return candidate, nil
	}
	return nil, nil
}

// finalizeRequestedCancellations locks every parkable task with a pending
// cancel request and moves it straight to cancelled, re-deriving ticket
// state for every affected ticket afterward.
func (s *Service) finalizeRequestedCancellations(ctx context.Context, tx *sqlx.Tx) (int, error) {
	rows, err := s.Repos.Tasks.CancelRequestedParkable(ctx, tx, 100)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	affected := make(map[string]bool, len(rows))
	for i := range rows {
		task := &rows[i]
		affected[task.TicketID] = true
		if err := s.markTaskCancelled(ctx, tx, task); err != nil {
			return 0, err
		}
	}

	for ticketID := range affected {
		ticket, err := s.Repos.Tickets.GetByTicketID(ctx, tx, ticketID)
		if err == store.ErrNotFound {
			continue
		} else if err != nil {
			return 0, err
		}
		if err := s.syncTicketState(ctx, tx, ticket); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// reapStaleRunningTasks runs in its own short transaction ahead of every
// claim attempt, finalizing tasks whose timeout elapsed or whose lease
// expired while still marked running.
func (s *Service) reapStaleRunningTasks(ctx context.Context) error {
	return s.Repos.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.Clock.Now()
		stale, err := s.Repos.Tasks.RunningTasksForReap(ctx, tx, 100)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		staleTimeout := maxInt(s.Settings.StaleTaskTimeoutSeconds, 30)
		affected := make(map[string]bool, len(stale))
		for i := range stale {
			task := &stale[i]

			if taskTimeoutExceeded(now, task) {
				affected[task.TicketID] = true
				task.AttemptCount++
				if _, err := s.finalizeRetryOrDeadLetter(ctx, tx, task, "task timed out after "+strconv.Itoa(derefInt(task.TimeoutSeconds))+"s", nil); err != nil {
					return err
				}
				continue
			}

			if !policy.IsStaleRunningTask(now, task.LeaseExpiresAt, task.StartedAt, staleTimeout) {
				continue
			}

			affected[task.TicketID] = true
			if task.CancelRequested {
				if err := s.markTaskCancelled(ctx, tx, task); err != nil {
					return err
				}
				continue
			}

			task.AttemptCount++
			if _, err := s.finalizeRetryOrDeadLetter(ctx, tx, task, "task lease expired while running", nil); err != nil {
				return err
			}
		}

		for ticketID := range affected {
			ticket, err := s.Repos.Tickets.GetByTicketID(ctx, tx, ticketID)
			if err == store.ErrNotFound {
				continue
			} else if err != nil {
				return err
			}
			if err := s.syncTicketState(ctx, tx, ticket); err != nil {
				return err
			}
		}
		return nil
	})
}

func taskTimeoutExceeded(now time.Time, task *store.Task) bool {
	if task.TimeoutSeconds == nil || task.StartedAt == nil {
		return false
	}
	timeout := *task.TimeoutSeconds
	if timeout < 1 {
		timeout = 1
	}
	return now.Sub(*task.StartedAt) >= time.Duration(timeout)*time.Second
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
