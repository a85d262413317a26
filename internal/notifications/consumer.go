package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/versatiles/printops/internal/database"
	"github.com/versatiles/printops/internal/metrics"
	inats "github.com/versatiles/printops/internal/nats"
)

const consumerName = "notification-persister"

var eventNamespace = uuid.MustParse("0b7e4d2a-8c61-4f3e-b9a4-2e5c7d1f6a83")

var levels = map[string]bool{
	inats.LevelInfo:    true,
	inats.LevelSuccess: true,
	inats.LevelWarning: true,
	inats.LevelError:   true,
}

// Consumer stores notification events for their recipients.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(store Store, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{store: store, consumerMgr: consumerMgr}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectNotificationEvent)
	if err != nil {
		return err
	}
	return inats.FetchLoop(ctx, consumerName, consumer, c.handleEvent)
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.NotificationEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.drop(msg, "unmarshaling event", err)
		return
	}
	n, err := toNotification(event)
	if err != nil {
		c.drop(msg, "invalid event", err)
		return
	}
	if meta, err := msg.Metadata(); err == nil {
		n.ID = uuid.NewSHA1(eventNamespace, fmt.Appendf(nil, "%s/%d", meta.Stream, meta.Sequence.Stream))
	}

	if err := c.store.Insert(ctx, n); err != nil {
		// The recipient or the referenced order is gone; retrying cannot help.
		if database.IsForeignKeyViolation(err) {
			c.drop(msg, "recipient or reference missing", err)
			return
		}
		slog.Error("notification consumer: persisting notification", "error", err, "category", event.Category)
		metrics.EventsConsumedTotal.WithLabelValues(consumerName, "retry").Inc()
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	metrics.EventsConsumedTotal.WithLabelValues(consumerName, "stored").Inc()
	slog.Debug("notification consumer: stored", "recipient", n.UserID, "category", n.Category)
}

func (c *Consumer) drop(msg jetstream.Msg, reason string, err error) {
	slog.Warn("notification consumer: dropping event", "reason", reason, "error", err)
	metrics.EventsConsumedTotal.WithLabelValues(consumerName, "dropped").Inc()
	_ = msg.Term()
}

func toNotification(event inats.NotificationEvent) (*Notification, error) {
	if event.RecipientID == uuid.Nil {
		return nil, fmt.Errorf("notification without recipient")
	}
	if event.Message == "" {
		return nil, fmt.Errorf("notification without message")
	}
	level := event.Level
	if level == "" {
		level = inats.LevelInfo
	}
	if !levels[level] {
		return nil, fmt.Errorf("unknown notification level %q", level)
	}
	created := event.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &Notification{
		ID:              uuid.New(),
		UserID:          event.RecipientID,
		Category:        event.Category,
		Level:           level,
		Message:         event.Message,
		RelatedOrderID:  event.OrderID,
		RelatedImportID: event.ImportID,
		CreatedAt:       created,
	}, nil
}
