package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, NormalizeMaxAttempts(0, 3))
	assert.Equal(t, 5, NormalizeMaxAttempts(5, 3))
	assert.Equal(t, 1, NormalizeMaxAttempts(-1, 0))
}

func TestComputeRetryDelaySeconds(t *testing.T) {
	cases := []struct {
		attempt, base, max, want int
	}{
		{1, 10, 600, 10},
		{2, 10, 600, 20},
		{3, 10, 600, 40},
		{10, 10, 600, 600},
		{0, 10, 600, 10},
	}
	for _, c := range cases {
		got := ComputeRetryDelaySeconds(c.attempt, c.base, c.max)
		assert.Equalf(t, c.want, got, "attempt=%d", c.attempt)
		assert.GreaterOrEqual(t, got, c.base)
		assert.LessOrEqual(t, got, c.max)
	}
}

func TestComputeRetryDelayMonotonic(t *testing.T) {
	prev := 0
	for attempt := 1; attempt <= 12; attempt++ {
		got := ComputeRetryDelaySeconds(attempt, 5, 300)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestIsStaleRunningTask(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pastLease := now.Add(-time.Second)
	futureLease := now.Add(time.Second)
	staleStart := now.Add(-31 * time.Minute)

	assert.True(t, IsStaleRunningTask(now, &pastLease, nil, 900))
	assert.False(t, IsStaleRunningTask(now, &futureLease, nil, 900))
	assert.True(t, IsStaleRunningTask(now, nil, &staleStart, 900))
	assert.False(t, IsStaleRunningTask(now, nil, nil, 900))
}

func TestResolvePrecedence(t *testing.T) {
	ticket := TicketView{Stage: "running", Paused: true}
	res := Resolve(ticket, []TaskView{{State: "queued"}})
	assert.Equal(t, StatusPaused, res.Status)

	ticket = TicketView{ApprovalRequired: true, ApprovalStatus: ApprovalPending}
	res = Resolve(ticket, nil)
	assert.Equal(t, StagePendingApproval, res.Stage)
	assert.Equal(t, StatusWaitingApproval, res.Status)

	ticket = TicketView{ApprovalRequired: true, ApprovalStatus: ApprovalRejected}
	res = Resolve(ticket, nil)
	assert.Equal(t, StageReview, res.Stage)
	assert.Equal(t, StatusAttention, res.Status)

	res = Resolve(TicketView{}, nil)
	assert.Equal(t, StageQueued, res.Stage)

	res = Resolve(TicketView{}, []TaskView{{State: "completed"}, {State: "failed"}})
	assert.Equal(t, StageReview, res.Stage)

	res = Resolve(TicketView{}, []TaskView{{State: "completed"}, {State: "completed"}})
	assert.Equal(t, StageFinished, res.Stage)
	require.NotNil(t, res.CompletedAt)

	res = Resolve(TicketView{}, []TaskView{{State: "completed"}, {State: "queued"}})
	assert.Equal(t, StageRunning, res.Stage)
}
