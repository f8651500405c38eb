// Package telemetry wires the shared logging/otelinit packages (adapted
// from the donor's libs/go/core) into this domain's span and metric names.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/evercore/orchestrator/libs/go/core/logging"
	"github.com/evercore/orchestrator/libs/go/core/otelinit"
)

const tracerName = "evercore-orchestrator"

// Init sets up structured logging and returns the logger, matching the
// donor's one-call-at-startup shape.
func Init(service string) *slog.Logger {
	return logging.Init(service)
}

// InitTracer and InitMetrics are thin re-exports so cmd/ entrypoints don't
// need to import the libs module directly.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	return otelinit.InitTracer(ctx, service)
}

func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, m otelinit.Metrics) {
	return otelinit.InitMetrics(ctx, service)
}

func Flush(ctx context.Context, shutdown func(context.Context) error) {
	otelinit.Flush(ctx, shutdown)
}

// WithSpan starts a named span under the orchestrator's own tracer.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	tr := otel.Tracer(tracerName)
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Instruments bundles the counters and histograms the worker, scheduler,
// and ticket service record against.
type Instruments struct {
	TasksClaimed           metric.Int64Counter
	TasksCompleted         metric.Int64Counter
	TasksRetried           metric.Int64Counter
	TasksDeadLettered      metric.Int64Counter
	TasksCancelled         metric.Int64Counter
	ScheduleRuns           metric.Int64Counter
	TicketEventsPublished  metric.Int64Counter
	ProcessOnceDurationMs  metric.Float64Histogram
}

// NewInstruments registers the orchestrator's domain metrics against the
// currently configured global MeterProvider.
func NewInstruments() Instruments {
	meter := otel.GetMeterProvider().Meter(tracerName)
	claimed, _ := meter.Int64Counter("evercore_tasks_claimed_total")
	completed, _ := meter.Int64Counter("evercore_tasks_completed_total")
	retried, _ := meter.Int64Counter("evercore_tasks_retried_total")
	deadLettered, _ := meter.Int64Counter("evercore_tasks_dead_lettered_total")
	cancelled, _ := meter.Int64Counter("evercore_tasks_cancelled_total")
	scheduleRuns, _ := meter.Int64Counter("evercore_schedule_runs_total")
	eventsPublished, _ := meter.Int64Counter("evercore_ticket_events_published_total")
	duration, _ := meter.Float64Histogram("evercore_worker_process_once_duration_ms")
	return Instruments{
		TasksClaimed:          claimed,
		TasksCompleted:        completed,
		TasksRetried:          retried,
		TasksDeadLettered:     deadLettered,
		TasksCancelled:        cancelled,
		ScheduleRuns:          scheduleRuns,
		TicketEventsPublished: eventsPublished,
		ProcessOnceDurationMs: duration,
	}
}
