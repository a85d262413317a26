package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/versatiles/printops/internal/metrics"
	inats "github.com/versatiles/printops/internal/nats"
)

const consumerName = "audit-persister"

// eventNamespace seeds the deterministic IDs derived from stream sequences.
var eventNamespace = uuid.MustParse("6f1c8e52-3d1b-4a57-9a0e-5b9d3c2f7a10")

// Consumer persists audit events from JetStream into audit_logs.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(store Store, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{store: store, consumerMgr: consumerMgr}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectAuditEvent)
	if err != nil {
		return err
	}
	return inats.FetchLoop(ctx, consumerName, consumer, c.handleEvent)
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.AuditEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: dropping malformed event", "error", err)
		metrics.EventsConsumedTotal.WithLabelValues(consumerName, "malformed").Inc()
		_ = msg.Term()
		return
	}

	log, err := toLog(event)
	if err != nil {
		slog.Error("audit consumer: dropping event", "error", err, "action", event.Action)
		metrics.EventsConsumedTotal.WithLabelValues(consumerName, "malformed").Inc()
		_ = msg.Term()
		return
	}
	if meta, err := msg.Metadata(); err == nil {
		log.ID = uuid.NewSHA1(eventNamespace, fmt.Appendf(nil, "%s/%d", meta.Stream, meta.Sequence.Stream))
	}

	if err := c.store.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "action", event.Action)
		metrics.EventsConsumedTotal.WithLabelValues(consumerName, "retry").Inc()
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	metrics.EventsConsumedTotal.WithLabelValues(consumerName, "stored").Inc()
	slog.Debug("audit consumer: persisted event",
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
	)
}

func toLog(event inats.AuditEvent) (*Log, error) {
	if event.Action == "" {
		return nil, fmt.Errorf("audit event without action")
	}

	log := &Log{
		ID:           uuid.New(),
		ActorID:      event.ActorID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		CreatedAt:    event.Timestamp,
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var err error
	if log.Before, err = marshalState(event.Before); err != nil {
		return nil, err
	}
	if log.After, err = marshalState(event.After); err != nil {
		return nil, err
	}
	if log.Details, err = marshalState(event.Details); err != nil {
		return nil, err
	}
	if log.Details == nil {
		log.Details = json.RawMessage(`{}`)
	}
	return log, nil
}

func marshalState(state map[string]any) (json.RawMessage, error) {
	if len(state) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit state: %w", err)
	}
	return data, nil
}
