package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// EventPublisher is what the domain services depend on.
type EventPublisher interface {
	PublishAuditEvent(ctx context.Context, event AuditEvent) error
	PublishNotificationEvent(ctx context.Context, event NotificationEvent) error
}

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishAuditEvent publishes an audit event.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAuditEvent, event)
}

// PublishNotificationEvent publishes a notification for one recipient.
func (p *Publisher) PublishNotificationEvent(ctx context.Context, event NotificationEvent) error {
	return p.publish(ctx, SubjectNotificationEvent, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// LogPublisher writes events to the structured log. Used when NATS is not
// configured.
type LogPublisher struct{}

func (LogPublisher) PublishAuditEvent(_ context.Context, event AuditEvent) error {
	slog.Info("audit event", "action", event.Action, "resource_type", event.ResourceType,
		"resource_id", event.ResourceID, "before", event.Before, "after", event.After, "details", event.Details)
	return nil
}

func (LogPublisher) PublishNotificationEvent(_ context.Context, event NotificationEvent) error {
	slog.Info("notification event", "recipient", event.RecipientID, "category", event.Category,
		"level", event.Level, "message", event.Message)
	return nil
}

// Emit publishes both kinds of events and logs failures instead of returning
// them. Events are emitted after the state change has committed, so a broker
// outage must not turn a committed change into an error for the caller.
func Emit(ctx context.Context, pub EventPublisher, audit *AuditEvent, notes ...NotificationEvent) {
	if pub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if audit != nil {
		if err := pub.PublishAuditEvent(ctx, *audit); err != nil {
			slog.Error("publishing audit event", "error", err, "action", audit.Action, "resource_id", audit.ResourceID)
		}
	}
	for _, n := range notes {
		if err := pub.PublishNotificationEvent(ctx, n); err != nil {
			slog.Error("publishing notification event", "error", err, "category", n.Category, "recipient", n.RecipientID)
		}
	}
}
