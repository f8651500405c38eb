// Package config loads the settings the orchestrator core recognizes, all
// under the EVERCORE_ env prefix, generalizing the donor's per-call
// getEnvDefault helper (task_executor.go) into one struct-based loader.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Settings mirrors the original evercore Settings fields, plus the
// NotifyRateLimit* fields that size the NATS notification rate limiter.
type Settings struct {
	DatabaseURL                  string
	DefaultWorkflowKey           string
	WorkerPollIntervalSeconds    int
	WorkerID                     string
	TaskLeaseSeconds             int
	StaleTaskTimeoutSeconds      int
	DefaultMaxAttempts           int
	RetryBaseSeconds             int
	RetryMaxSeconds              int
	EventWaitPollIntervalSeconds int
	ScheduleBatchSize            int
	NotifyRateLimitPerSecond     float64
	NotifyRateLimitBurst         int
}

// Load reads Settings from the environment, applying the same defaults as
// the original's pydantic Settings.
func Load() Settings {
	hostname, _ := os.Hostname()
	defaultWorkerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	return Settings{
		DatabaseURL:                  getEnv("DATABASE_URL", "postgres://localhost:5432/evercore?sslmode=disable"),
		DefaultWorkflowKey:           getEnv("DEFAULT_WORKFLOW_KEY", "default_ticket"),
		WorkerPollIntervalSeconds:    getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2),
		WorkerID:                     getEnv("WORKER_ID", defaultWorkerID),
		TaskLeaseSeconds:             getEnvInt("TASK_LEASE_SECONDS", 300),
		StaleTaskTimeoutSeconds:      getEnvInt("STALE_TASK_TIMEOUT_SECONDS", 900),
		DefaultMaxAttempts:           getEnvInt("DEFAULT_MAX_ATTEMPTS", 3),
		RetryBaseSeconds:             getEnvInt("RETRY_BASE_SECONDS", 10),
		RetryMaxSeconds:              getEnvInt("RETRY_MAX_SECONDS", 600),
		EventWaitPollIntervalSeconds: getEnvInt("EVENT_WAIT_POLL_INTERVAL_SECONDS", 15),
		ScheduleBatchSize:            getEnvInt("SCHEDULE_BATCH_SIZE", 10),
		NotifyRateLimitPerSecond:     getEnvFloat("NOTIFY_RATE_LIMIT_PER_SECOND", 50),
		NotifyRateLimitBurst:         getEnvInt("NOTIFY_RATE_LIMIT_BURST", 100),
	}
}

const envPrefix = "EVERCORE_"

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok || raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}
