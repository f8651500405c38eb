package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EVERCORE_TASK_LEASE_SECONDS", "")
	s := Load()
	assert.Equal(t, 300, s.TaskLeaseSeconds)
	assert.Equal(t, "default_ticket", s.DefaultWorkflowKey)
	assert.NotEmpty(t, s.WorkerID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EVERCORE_TASK_LEASE_SECONDS", "45")
	t.Setenv("EVERCORE_WORKER_ID", "worker-1")
	s := Load()
	assert.Equal(t, 45, s.TaskLeaseSeconds)
	assert.Equal(t, "worker-1", s.WorkerID)
}
