package worker

import (
	"context"
	"time"

	"github.com/evercore/orchestrator/internal/policy"
)

// leaseRenewerLoop renews taskID's lease on its own short-lived database
// round trips until ctx is cancelled (execution finished) or it observes
// the task is no longer running under workerID. If the owning ticket has
// been paused it sets cancel_requested on the task and keeps renewing.
func (s *Service) leaseRenewerLoop(ctx context.Context, taskID int64, workerID string) {
	leaseSeconds := maxInt(s.Settings.TaskLeaseSeconds, 10)
	renewInterval := time.Duration(maxInt(2, leaseSeconds/3)) * time.Second

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.renewOnce(ctx, taskID, workerID, leaseSeconds) {
				return
			}
		}
	}
}

func (s *Service) renewOnce(ctx context.Context, taskID int64, workerID string, leaseSeconds int) bool {
	task, err := s.Repos.Tasks.Get(ctx, s.Repos.DB, taskID)
	if err != nil {
		return false
	}
	if task.State != "running" || task.ClaimedBy == nil || *task.ClaimedBy != workerID {
		return false
	}

	ticket, err := s.Repos.Tickets.GetByTicketID(ctx, s.Repos.DB, task.TicketID)
	now := s.Clock.Now()
	if err == nil && ticket.Paused && !task.CancelRequested {
		task.CancelRequested = true
		task.CancelRequestedAt = &now
		_ = s.Repos.Tasks.Update(ctx, s.Repos.DB, task)
	}

	leaseExpires := policy.LeaseExpiresAt(now, leaseSeconds)
	ok, err := s.Repos.Tasks.RenewLease(ctx, s.Repos.DB, taskID, workerID, leaseExpires, now)
	if err != nil || !ok {
		return false
	}
	_ = s.Repos.Heartbeats.Upsert(ctx, s.Repos.DB, workerID, "working", &taskID, now)
	return true
}
