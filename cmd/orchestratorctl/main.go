// Command orchestratorctl is the operator CLI: one-shot worker/schedule
// steps and ticket/event mutations against the same services
// cmd/orchestratord runs continuously, built with spf13/cobra the way the
// pack's cobra-based service entrypoints are structured.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evercore/orchestrator/internal/config"
	"github.com/evercore/orchestrator/internal/executor"
	"github.com/evercore/orchestrator/internal/migrate"
	"github.com/evercore/orchestrator/internal/policy"
	"github.com/evercore/orchestrator/internal/schedule"
	"github.com/evercore/orchestrator/internal/store"
	"github.com/evercore/orchestrator/internal/ticketsvc"
	"github.com/evercore/orchestrator/internal/worker"
	"github.com/evercore/orchestrator/internal/workflow"
)

type app struct {
	settings  config.Settings
	repos     *store.Repos
	tickets   *ticketsvc.Service
	schedules *schedule.Service
	worker    *worker.Service
}

func newApp(ctx context.Context) (*app, error) {
	settings := config.Load()
	db, err := store.Open(ctx, settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := migrate.Apply(ctx, db); err != nil {
		return nil, fmt.Errorf("apply schema migrations: %w", err)
	}

	repos := store.NewRepos(db)
	clock := policy.SystemClock{}
	workflowsDir := os.Getenv("EVERCORE_WORKFLOWS_DIR")
	if workflowsDir == "" {
		workflowsDir = "./workflows"
	}
	workflows := workflow.NewLoader(workflowsDir)

	tickets := ticketsvc.New(repos, workflows, settings.DefaultWorkflowKey, settings.DefaultMaxAttempts, clock)
	schedules := schedule.New(repos, tickets, settings.DefaultWorkflowKey, clock, nil)

	executors := executor.NewRegistry()
	executors.Register("noop", executor.Noop{})
	executors.Register("wait_for_event", &executor.WaitForEvent{
		Repos:               repos,
		DefaultPollInterval: settings.EventWaitPollIntervalSeconds,
	})
	executors.Register("agent_stub", &executor.AgentStub{})
	workerSvc := worker.New(repos, executors, settings, clock, nil)

	return &app{settings: settings, repos: repos, tickets: tickets, schedules: schedules, worker: workerSvc}, nil
}

func main() {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Operator CLI for the ticket/task orchestrator",
	}

	workerCmd := &cobra.Command{Use: "worker", Short: "Worker operations"}
	workerCmd.AddCommand(newWorkerRunCmd())
	root.AddCommand(workerCmd)

	scheduleCmd := &cobra.Command{Use: "schedule", Short: "Schedule operations"}
	scheduleCmd.AddCommand(newScheduleProcessDueCmd())
	root.AddCommand(scheduleCmd)

	ticketCmd := &cobra.Command{Use: "ticket", Short: "Ticket operations"}
	ticketCmd.AddCommand(newTicketCreateCmd())
	root.AddCommand(ticketCmd)

	eventCmd := &cobra.Command{Use: "event", Short: "Event operations"}
	eventCmd.AddCommand(newEventPublishCmd())
	root.AddCommand(eventCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newWorkerRunCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single process_once step",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := a.worker.ProcessOnce(cmd.Context(), workerID)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&workerID, "worker-id", "", "worker identity for claimed_by; defaults to EVERCORE_WORKER_ID")
	return cmd
}

func newScheduleProcessDueCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process-due",
		Short: "Materialize every schedule currently due",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.schedules.ProcessDueSchedules(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"schedules_processed": n})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of due schedules to process")
	return cmd
}

func newTicketCreateCmd() *cobra.Command {
	var (
		title       string
		workflowKey string
		inputJSON   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			var workflowInput map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &workflowInput); err != nil {
					return fmt.Errorf("--input must be a JSON object: %w", err)
				}
			}
			req := ticketsvc.TicketCreateRequest{WorkflowKey: workflowKey, WorkflowInput: workflowInput}
			if title != "" {
				req.Title = &title
			}
			ticket, err := a.tickets.CreateTicket(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(ticket)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "ticket title")
	cmd.Flags().StringVar(&workflowKey, "workflow-key", "", "workflow key; defaults to EVERCORE_DEFAULT_WORKFLOW_KEY")
	cmd.Flags().StringVar(&inputJSON, "input", "", "workflow_input as a JSON object")
	return cmd
}

func newEventPublishCmd() *cobra.Command {
	var (
		ticketID  string
		eventType string
		payload   string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event into a ticket's inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			var payloadMap map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &payloadMap); err != nil {
					return fmt.Errorf("--payload must be a JSON object: %w", err)
				}
			}
			event, err := a.tickets.PublishEvent(cmd.Context(), ticketID, eventType, payloadMap)
			if err != nil {
				return err
			}
			return printJSON(event)
		},
	}
	cmd.Flags().StringVar(&ticketID, "ticket-id", "", "ticket id to publish into")
	cmd.Flags().StringVar(&eventType, "event-type", "", "event type")
	cmd.Flags().StringVar(&payload, "payload", "", "event payload as a JSON object")
	_ = cmd.MarkFlagRequired("ticket-id")
	_ = cmd.MarkFlagRequired("event-type")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
