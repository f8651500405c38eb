// Command orchestratord is the orchestrator's long-running process: the
// HTTP admin surface, the worker poll loop, and the schedule poll loop,
// wired onto one signal-aware lifecycle the same way the donor's root
// main.go wires its single DAG-workflow HTTP server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/evercore/orchestrator/internal/api"
	"github.com/evercore/orchestrator/internal/config"
	"github.com/evercore/orchestrator/internal/executor"
	"github.com/evercore/orchestrator/internal/migrate"
	"github.com/evercore/orchestrator/internal/notify"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/schedule"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/telemetry"
	"github.com/evercore/orchestrator/internal/ticketsvc"
	"github.com/evercore/orchestrator/internal/worker"
	"github.com/evercore/orchestrator/internal/workflow"
	logging "github.com/evercore/orchestrator/libs/go/core/logging"
	"github.com/evercore/orchestrator/libs/go/core/otelinit"
	"github.com/evercore/orchestrator/libs/go/core/resilience"
)

func main() {
	service := "orchestratord"
	logger := logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)

	settings := config.Load()

	db, err := store.Open(ctx, settings.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate.Apply(ctx, db); err != nil {
		logger.Error("failed to apply schema migrations", "error", err)
		os.Exit(1)
	}

	repos := store.NewRepos(db)
	instruments := telemetry.NewInstruments()
	clock := policy.SystemClock{}

	workflowsDir := getenv("EVERCORE_WORKFLOWS_DIR", "./workflows")
	workflows := workflow.NewLoader(workflowsDir)

	var notifier *notify.Publisher
	if natsURL := os.Getenv("EVERCORE_NATS_URL"); natsURL != "" {
		conn, err := nats.Connect(natsURL)
		if err != nil {
			logger.Warn("failed to connect to NATS, ticket event fan-out disabled", "error", err)
		} else {
			defer conn.Close()
			limiter := resilience.NewRateLimiter(int64(settings.NotifyRateLimitBurst), settings.NotifyRateLimitPerSecond, time.Second, 0)
			notifier = notify.New(conn, logger, limiter)
		}
	}

	tickets := ticketsvc.New(repos, workflows, settings.DefaultWorkflowKey, settings.DefaultMaxAttempts, clock)
	tickets.Instruments = instruments
	tickets.Notifier = notifier

	schedules := schedule.New(repos, tickets, settings.DefaultWorkflowKey, clock, logger)
	schedules.Instruments = instruments

	executors := executor.NewRegistry()
	executors.Register("noop", executor.Noop{})
	executors.Register("wait_for_event", &executor.WaitForEvent{
		Repos:               repos,
		DefaultPollInterval: settings.EventWaitPollIntervalSeconds,
	})
	executors.Register("agent_stub", &executor.AgentStub{})

	workerSvc := worker.New(repos, executors, settings, clock, logger)
	workerSvc.Instruments = instruments

	apiServer := api.New(tickets, schedules, logger)
	var promMux http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		promMux = h
	}
	mux := apiServer.Mux(promMux)

	addr := getenv("EVERCORE_HTTP_ADDR", ":8080")
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	go runWorkerLoop(ctx, workerSvc, settings, logger)
	go runScheduleLoop(ctx, schedules, settings, logger)

	logger.Info("orchestrator started", "addr", addr)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	logger.Info("shutdown complete")
}

// runWorkerLoop calls ProcessOnce repeatedly, sleeping the configured poll
// interval whenever a step finds nothing to do, the same idle-backoff
// shape the original's worker_service.py run_forever loop uses.
func runWorkerLoop(ctx context.Context, svc *worker.Service, settings config.Settings, logger *slog.Logger) {
	interval := time.Duration(settings.WorkerPollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := svc.ProcessOnce(ctx, settings.WorkerID)
		if err != nil {
			logger.Error("process_once failed", "error", err)
			sleepOrDone(ctx, interval)
			continue
		}
		if !resp.Processed {
			sleepOrDone(ctx, interval)
		}
	}
}

// runScheduleLoop polls for due schedules at the same cadence as the
// worker loop; nothing in the specification calls for a distinct cadence,
// and schedule batches are cheap row claims, not long-running work.
func runScheduleLoop(ctx context.Context, svc *schedule.Service, settings config.Settings, logger *slog.Logger) {
	interval := time.Duration(settings.WorkerPollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batchSize := settings.ScheduleBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := svc.ProcessDueSchedules(ctx, batchSize)
		if err != nil {
			logger.Error("process_due_schedules failed", "error", err)
		}
		if processed == 0 {
			sleepOrDone(ctx, interval)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
