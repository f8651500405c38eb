// Package notify best-effort fans ticket events out over NATS so external
// subscribers (dashboards, chat bots, other services) can follow a ticket's
// event inbox without polling the HTTP surface.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/evercore/orchestrator/libs/go/core/natsctx"
	"github.com/evercore/orchestrator/libs/go/core/resilience"
)

// subjectPrefix and subjectSuffix form the NATS subject ticket events publish under,
// namespaced by ticket id so a subscriber can wildcard a single ticket
// (evercore.tickets.<ticket_id>.events) or every ticket
// (evercore.tickets.*.events).
const subjectPrefix = "evercore.tickets."
const subjectSuffix = ".events"

// Publisher fans ticket events out to NATS. A nil *nats.Conn makes every
// Publish call a no-op, so the orchestrator runs fine with notifications
// disabled.
type Publisher struct {
	Conn    *nats.Conn
	Logger  *slog.Logger
	Limiter *resilience.RateLimiter
}

// New builds a Publisher. conn may be nil to disable fan-out entirely;
// logger may be nil, in which case slog's default logger is used. limiter
// may be nil to publish unbounded; when set, it caps how many ticket
// events can be fanned out per second so a storm of events on one ticket
// cannot flood the NATS side-channel.
func New(conn *nats.Conn, logger *slog.Logger, limiter *resilience.RateLimiter) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{Conn: conn, Logger: logger, Limiter: limiter}
}

type eventEnvelope struct {
	TicketID  string         `json:"ticket_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// PublishTicketEvent best-effort publishes a ticket event notification.
// Failures are logged and swallowed: the event is already durably recorded
// in the ticket's inbox, so a dropped notification never loses data, only
// timeliness for whoever is watching the subject.
func (p *Publisher) PublishTicketEvent(ctx context.Context, ticketID, eventType string, payload map[string]any) {
	if p == nil || p.Conn == nil {
		return
	}
	if p.Limiter != nil && !p.Limiter.Allow() {
		p.Logger.Warn("dropped ticket event notification: rate limit exceeded", "ticket_id", ticketID, "event_type", eventType)
		return
	}
	data, err := json.Marshal(eventEnvelope{TicketID: ticketID, EventType: eventType, Payload: payload})
	if err != nil {
		p.Logger.Warn("failed to encode ticket event notification", "ticket_id", ticketID, "error", err)
		return
	}
	subject := subjectPrefix + ticketID + subjectSuffix
	if err := natsctx.Publish(ctx, p.Conn, subject, data); err != nil {
		p.Logger.Warn("failed to publish ticket event notification", "ticket_id", ticketID, "subject", subject, "error", err)
	}
}
