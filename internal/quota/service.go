package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/metrics"
	inats "github.com/versatiles/printops/internal/nats"
)

// Service is the single authority over client print allowances. Every usage
// change goes through Ledger.WithLock so concurrent deductions for the same
// client and month serialize.
type Service struct {
	ledger    Ledger
	cfg       config.QuotaConfig
	publisher inats.EventPublisher
	now       func() time.Time
}

// NewService creates a new quota Service.
func NewService(ledger Ledger, cfg config.QuotaConfig, publisher inats.EventPublisher) *Service {
	return &Service{
		ledger:    ledger,
		cfg:       cfg,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock replaces the clock used to date top-ups and pick the current month.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CurrentMonth returns the first day of the current UTC month.
func (s *Service) CurrentMonth() time.Time {
	return MonthOf(s.now())
}

// Limits returns the base allowances applied to a month's first row.
func (s *Service) Limits() Limits {
	return Limits{BW: s.cfg.DefaultBWLimit, Color: s.cfg.DefaultColorLimit}
}

// GetOrCreate returns the month's row, persisting it with the default limits
// on first access.
func (s *Service) GetOrCreate(ctx context.Context, clientID uuid.UUID, month time.Time) (*ClientQuota, error) {
	q, err := s.ledger.GetOrCreate(ctx, clientID, month, s.Limits())
	if err != nil {
		return nil, fault.Storage("creating quota", err)
	}
	return q, nil
}

// peek reads the month's row without locking or creating it. A month with no
// row reports the default limits and zero usage.
func (s *Service) peek(ctx context.Context, clientID uuid.UUID, month time.Time) (*ClientQuota, error) {
	q, err := s.ledger.Get(ctx, clientID, month)
	if err != nil {
		return nil, fault.Storage("reading quota", err)
	}
	if q == nil {
		q = newClientQuota(clientID, month, s.Limits())
	}
	return q, nil
}

// Available returns total limit minus used for one kind. A negative balance
// is reported as a storage fault instead of being clamped.
func (s *Service) Available(ctx context.Context, clientID uuid.UUID, month time.Time, kind Kind) (int, error) {
	q, err := s.peek(ctx, clientID, month)
	if err != nil {
		return 0, err
	}
	available := q.Available(kind)
	if available < 0 {
		return 0, fault.Storage("reading quota", fmt.Errorf("%w: client %s month %s %s available %d",
			ErrLedgerIntegrity, clientID, q.Month.Format("2006-01"), kind, available))
	}
	return available, nil
}

// CheckAvailability reports whether both amounts fit without mutating
// anything. Each kind is checked independently; the returned *ExceededError
// lists every kind that falls short.
func (s *Service) CheckAvailability(ctx context.Context, clientID uuid.UUID, month time.Time, bw, color int) error {
	if err := validateAmounts(bw, color); err != nil {
		return err
	}
	q, err := s.peek(ctx, clientID, month)
	if err != nil {
		return err
	}
	if err := q.check(bw, color); err != nil {
		var ex *ExceededError
		if errors.As(err, &ex) {
			metrics.QuotaOperationsTotal.WithLabelValues("check", "exceeded").Inc()
			return err
		}
		return fault.Storage("checking quota", err)
	}
	return nil
}

// Deduct re-checks availability under the row lock and increments usage. Two
// concurrent deductions can never both succeed past the limit. actorID is
// the user the deduction is made on behalf of.
func (s *Service) Deduct(ctx context.Context, actorID, clientID uuid.UUID, month time.Time, bw, color int) (*ClientQuota, error) {
	if err := validateAmounts(bw, color); err != nil {
		return nil, err
	}

	var before map[string]any
	start := time.Now()
	q, err := s.ledger.WithLock(ctx, clientID, month, s.Limits(), func(q *ClientQuota) error {
		if err := q.check(bw, color); err != nil {
			return err
		}
		before = q.usage()
		q.add(KindBW, bw)
		q.add(KindColor, color)
		return nil
	})
	metrics.QuotaLockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.classify("deduct", err)
	}

	metrics.QuotaOperationsTotal.WithLabelValues("deduct", "ok").Inc()
	metrics.QuotaUnitsTotal.WithLabelValues("deduct", string(KindBW)).Add(float64(bw))
	metrics.QuotaUnitsTotal.WithLabelValues("deduct", string(KindColor)).Add(float64(color))

	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionQuotaDeducted,
		ResourceType: "client_quota",
		ResourceID:   q.ID.String(),
		Before:       before,
		After:        q.usage(),
		Details: map[string]any{
			"client_id": clientID.String(),
			"month":     q.Month.Format("2006-01"),
			"bw":        bw,
			"color":     color,
		},
		Timestamp: s.now().UTC(),
	})
	return q, nil
}

// Refund decrements usage, flooring each kind at zero. reason is logged and
// recorded in the audit trail.
func (s *Service) Refund(ctx context.Context, actorID, clientID uuid.UUID, month time.Time, bw, color int, reason string) (*ClientQuota, error) {
	if err := validateAmounts(bw, color); err != nil {
		return nil, err
	}

	var before map[string]any
	q, err := s.ledger.WithLock(ctx, clientID, month, s.Limits(), func(q *ClientQuota) error {
		before = q.usage()
		q.release(KindBW, bw)
		q.release(KindColor, color)
		return nil
	})
	if err != nil {
		return nil, s.classify("refund", err)
	}

	slog.Info("quota refunded", "actor_id", actorID, "client_id", clientID, "month", q.Month.Format("2006-01"),
		"bw", bw, "color", color, "reason", reason)
	metrics.QuotaOperationsTotal.WithLabelValues("refund", "ok").Inc()
	metrics.QuotaUnitsTotal.WithLabelValues("refund", string(KindBW)).Add(float64(bw))
	metrics.QuotaUnitsTotal.WithLabelValues("refund", string(KindColor)).Add(float64(color))

	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionQuotaRefunded,
		ResourceType: "client_quota",
		ResourceID:   q.ID.String(),
		Before:       before,
		After:        q.usage(),
		Details: map[string]any{
			"client_id": clientID.String(),
			"month":     q.Month.Format("2006-01"),
			"bw":        bw,
			"color":     color,
			"reason":    reason,
		},
		Timestamp: s.now().UTC(),
	})
	return q, nil
}

// ApplyTopup appends a top-up dated now. It raises the total limit of the
// current month only.
func (s *Service) ApplyTopup(ctx context.Context, req TopupRequest) (*Topup, error) {
	if req.BWAdded < 0 || req.ColorAdded < 0 {
		return nil, fault.Validation("top-up amounts must not be negative")
	}
	if req.BWAdded == 0 && req.ColorAdded == 0 {
		return nil, fault.Validation("top-up must add B&W or color prints")
	}
	if floor := s.cfg.MinTopup; floor > 0 {
		if req.BWAdded > 0 && req.BWAdded < floor {
			return nil, fault.Validation("B&W top-up must be at least %d prints", floor)
		}
		if req.ColorAdded > 0 && req.ColorAdded < floor {
			return nil, fault.Validation("color top-up must be at least %d prints", floor)
		}
	}

	t := &Topup{
		ID:              uuid.New(),
		ClientID:        req.ClientID,
		AdminID:         req.AdminID,
		BWAdded:         req.BWAdded,
		ColorAdded:      req.ColorAdded,
		TransactionDate: s.now().UTC(),
		Notes:           req.Notes,
	}
	if err := s.ledger.AppendTopup(ctx, t, s.Limits()); err != nil {
		metrics.QuotaOperationsTotal.WithLabelValues("topup", "error").Inc()
		return nil, fault.Storage("applying top-up", err)
	}
	metrics.QuotaOperationsTotal.WithLabelValues("topup", "ok").Inc()

	month := MonthOf(t.TransactionDate).Format("January 2006")
	adminID := req.AdminID
	inats.Emit(ctx, s.publisher,
		&inats.AuditEvent{
			ActorID:      &adminID,
			Action:       inats.ActionQuotaTopup,
			ResourceType: "quota_topup",
			ResourceID:   t.ID.String(),
			Details: map[string]any{
				"client_id":   req.ClientID.String(),
				"bw_added":    req.BWAdded,
				"color_added": req.ColorAdded,
				"notes":       req.Notes,
			},
			Timestamp: t.TransactionDate,
		},
		inats.NotificationEvent{
			RecipientID: req.ClientID,
			Category:    inats.CategoryTopupApplied,
			Level:       inats.LevelSuccess,
			Message: fmt.Sprintf("Your quota was topped up by %d B&W and %d color prints for %s.",
				req.BWAdded, req.ColorAdded, month),
			Timestamp: t.TransactionDate,
		},
	)
	return t, nil
}

// ThresholdCrossed returns an Alert the first time usage of kind reaches the
// warning threshold in a month, and nil on every later call for that month.
// The alert flag is flipped under the row lock.
func (s *Service) ThresholdCrossed(ctx context.Context, clientID uuid.UUID, month time.Time, kind Kind) (*Alert, error) {
	var alert *Alert
	_, err := s.ledger.WithLock(ctx, clientID, month, s.Limits(), func(q *ClientQuota) error {
		alert = nil
		if q.AlertSent(kind) || q.TotalLimit(kind) <= 0 {
			return nil
		}
		if q.UsageRatio(kind) < s.cfg.WarningThreshold {
			return nil
		}
		q.markAlertSent(kind)
		alert = &Alert{
			ClientID:    clientID,
			Month:       q.Month,
			Kind:        kind,
			Used:        q.Used(kind),
			Total:       q.TotalLimit(kind),
			PercentUsed: q.PercentUsed(kind),
		}
		return nil
	})
	if err != nil {
		return nil, s.classify("threshold", err)
	}
	if alert != nil {
		metrics.QuotaAlertsTotal.WithLabelValues(string(kind)).Inc()
	}
	return alert, nil
}

// Summary reports both kinds and the month's top-up history.
func (s *Service) Summary(ctx context.Context, clientID uuid.UUID, month time.Time) (*Summary, error) {
	month = MonthOf(month)
	q, err := s.peek(ctx, clientID, month)
	if err != nil {
		return nil, err
	}
	topups, err := s.ledger.ListTopups(ctx, clientID, month)
	if err != nil {
		return nil, fault.Storage("listing top-ups", err)
	}
	return summarize(q, topups), nil
}

// ListTopups returns the month's top-ups, newest first.
func (s *Service) ListTopups(ctx context.Context, clientID uuid.UUID, month time.Time) ([]Topup, error) {
	topups, err := s.ledger.ListTopups(ctx, clientID, month)
	if err != nil {
		return nil, fault.Storage("listing top-ups", err)
	}
	if topups == nil {
		topups = []Topup{}
	}
	return topups, nil
}

// classify passes domain errors through and turns everything else, including
// lock timeouts and cancelled contexts, into a retryable storage fault.
func (s *Service) classify(op string, err error) error {
	var ex *ExceededError
	if errors.As(err, &ex) {
		metrics.QuotaOperationsTotal.WithLabelValues(op, "exceeded").Inc()
		return err
	}
	if _, ok := fault.KindOf(err); ok {
		return err
	}
	metrics.QuotaOperationsTotal.WithLabelValues(op, "error").Inc()
	if errors.Is(err, ErrLedgerIntegrity) {
		slog.Error("quota ledger integrity violation", "operation", op, "error", err)
	}
	return fault.Storage(op+" quota", err)
}

func validateAmounts(bw, color int) error {
	if bw < 0 || color < 0 {
		return fault.Validation("quantities must not be negative")
	}
	return nil
}
