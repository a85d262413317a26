package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/metrics"
	inats "github.com/versatiles/printops/internal/nats"
	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/users"
)

const refundTimeout = 10 * time.Second

// Directory looks up accounts by id.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// ImportOwners resolves the administrator who uploaded an import batch.
type ImportOwners interface {
	UploaderOf(ctx context.Context, importID uuid.UUID) (*uuid.UUID, error)
}

// Service owns order creation and status changes. Creation deducts quota
// before the order is written and refunds it when the write fails.
type Service struct {
	repo      Repository
	quota     *quota.Service
	directory Directory
	guard     *CapacityGuard
	publisher inats.EventPublisher
	importers ImportOwners
	now       func() time.Time
}

func NewService(repo Repository, quotaSvc *quota.Service, directory Directory, guard *CapacityGuard, publisher inats.EventPublisher) *Service {
	return &Service{
		repo:      repo,
		quota:     quotaSvc,
		directory: directory,
		guard:     guard,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetImportOwners enables notifications to the uploader of imported orders.
func (s *Service) SetImportOwners(owners ImportOwners) {
	s.importers = owners
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates the request, reserves quota and persists the order. If the
// order cannot be written, the reserved quota is refunded before the error is
// returned, even when ctx has been cancelled.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	source := "manual"
	if req.ImportID != nil {
		source = "import"
	}

	o, err := s.create(ctx, req)
	if err != nil {
		kind, ok := fault.KindOf(err)
		if !ok {
			kind = fault.KindStorage
		}
		metrics.OrdersCreatedTotal.WithLabelValues(source, string(kind)).Inc()
		return nil, err
	}
	metrics.OrdersCreatedTotal.WithLabelValues(source, "created").Inc()
	return o, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := s.authorizeCreate(&req); err != nil {
		return nil, err
	}
	if req.BWQuantity < 0 || req.ColorQuantity < 0 {
		return nil, fault.Validation("quantities must not be negative")
	}
	if req.BWQuantity == 0 && req.ColorQuantity == 0 {
		return nil, fault.Validation("order must request B&W or color prints")
	}

	client, err := s.lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil || client.Role != users.RoleClient {
		return nil, fault.Validation("client %s does not exist", req.ClientID)
	}
	if !client.IsActive {
		return nil, fault.Validation("client %s is inactive", client.Email)
	}

	var agent *users.User
	if req.AgentID != nil {
		agent, err = s.lookup(ctx, *req.AgentID)
		if err != nil {
			return nil, err
		}
		if agent == nil || agent.Role != users.RoleAgent {
			return nil, fault.Validation("agent %s does not exist", *req.AgentID)
		}
		if !agent.IsActive {
			return nil, fault.Validation("agent %s is inactive", agent.Email)
		}
	}

	externalID := strings.TrimSpace(req.ExternalOrderID)
	if externalID != "" {
		existing, err := s.repo.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, fault.Storage("checking external order id", err)
		}
		if existing != nil {
			return nil, &DuplicateError{ExternalOrderID: externalID, ExistingOrderID: &existing.ID}
		}
	}

	agentCap := 0
	if agent != nil {
		if err := s.guard.CheckCapacity(ctx, agent); err != nil {
			return nil, err
		}
		agentCap = s.guard.CapFor(agent)
	}

	now := s.now().UTC()
	createdAt := now
	if req.OrderedAt != nil {
		createdAt = req.OrderedAt.UTC()
	}
	month := quota.MonthOf(createdAt)

	if err := s.quota.CheckAvailability(ctx, req.ClientID, month, req.BWQuantity, req.ColorQuantity); err != nil {
		return nil, err
	}
	if _, err := s.quota.Deduct(ctx, req.Actor.ID, req.ClientID, month, req.BWQuantity, req.ColorQuantity); err != nil {
		return nil, err
	}

	o := &Order{
		ID:              uuid.New(),
		ClientID:        req.ClientID,
		AgentID:         req.AgentID,
		Status:          StatusPending,
		BWQuantity:      req.BWQuantity,
		ColorQuantity:   req.ColorQuantity,
		PaperDimensions: req.PaperDimensions,
		PaperType:       req.PaperType,
		Finishing:       req.Finishing,
		Notes:           req.Notes,
		ImportID:        req.ImportID,
		CreatedBy:       req.Actor.ID,
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
	if externalID != "" {
		o.ExternalOrderID = &externalID
	}

	if err := s.repo.Insert(ctx, o, agentCap); err != nil {
		s.refund(ctx, o, month, err)
		return nil, classifyInsert(err)
	}

	s.afterCreate(ctx, req.Actor, o, month)
	return o, nil
}

// authorizeCreate applies the role rules: admins create for anyone, agents
// only orders assigned to themselves, clients only unassigned orders of
// their own.
func (s *Service) authorizeCreate(req *CreateRequest) error {
	actor := req.Actor
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsAgent():
		if req.AgentID == nil {
			id := actor.ID
			req.AgentID = &id
		}
		if *req.AgentID != actor.ID {
			return fault.PermissionDenied("agents can only create orders assigned to themselves")
		}
		if req.ImportID != nil {
			return fault.PermissionDenied("only administrators can import orders")
		}
		return nil
	case actor.IsClient():
		if req.ClientID != actor.ID {
			return fault.PermissionDenied("clients can only create their own orders")
		}
		if req.AgentID != nil || req.ImportID != nil {
			return fault.PermissionDenied("clients cannot assign agents")
		}
		return nil
	}
	return fault.PermissionDenied("unknown role %q", actor.Role)
}

func (s *Service) lookup(ctx context.Context, id uuid.UUID) (*users.User, error) {
	u, err := s.directory.GetByID(ctx, id)
	if err != nil {
		return nil, fault.Storage("loading user", err)
	}
	return u, nil
}

// refund returns the amounts deducted for o. It runs detached from ctx so a
// cancelled or timed-out request still releases its reservation.
func (s *Service) refund(ctx context.Context, o *Order, month time.Time, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()

	reason := fmt.Sprintf("order %s not persisted: %v", o.ShortID(), cause)
	if _, err := s.quota.Refund(rctx, o.CreatedBy, o.ClientID, month, o.BWQuantity, o.ColorQuantity, reason); err != nil {
		slog.Error("quota refund failed, usage is overstated",
			"client_id", o.ClientID, "month", month.Format("2006-01"),
			"bw", o.BWQuantity, "color", o.ColorQuantity, "cause", cause, "error", err)
	}
}

// classifyInsert keeps domain errors from the insert transaction and reports
// everything else, including timeouts, as a retryable storage fault.
func classifyInsert(err error) error {
	if _, ok := fault.KindOf(err); ok {
		return err
	}
	return fault.Storage("persisting order", err)
}

func (s *Service) afterCreate(ctx context.Context, actor users.Actor, o *Order, month time.Time) {
	var notes []inats.NotificationEvent
	for _, kind := range quota.Kinds {
		alert, err := s.quota.ThresholdCrossed(ctx, o.ClientID, month, kind)
		if err != nil {
			slog.Warn("evaluating quota threshold", "client_id", o.ClientID, "kind", kind, "error", err)
			continue
		}
		if alert != nil {
			notes = append(notes, inats.NotificationEvent{
				RecipientID: o.ClientID,
				Category:    inats.CategoryQuotaWarning,
				Level:       inats.LevelWarning,
				Message:     alert.Message(),
				OrderID:     &o.ID,
				Timestamp:   o.UpdatedAt,
			})
		}
	}

	if actor.ID != o.ClientID {
		notes = append(notes, inats.NotificationEvent{
			RecipientID: o.ClientID,
			Category:    inats.CategoryOrderCreated,
			Level:       inats.LevelInfo,
			Message: fmt.Sprintf("Order #%s was created for you: %d B&W, %d color prints.",
				o.ShortID(), o.BWQuantity, o.ColorQuantity),
			OrderID:   &o.ID,
			ImportID:  o.ImportID,
			Timestamp: o.UpdatedAt,
		})
	}
	if o.AgentID != nil && *o.AgentID != actor.ID {
		notes = append(notes, inats.NotificationEvent{
			RecipientID: *o.AgentID,
			Category:    inats.CategoryOrderAssigned,
			Level:       inats.LevelInfo,
			Message:     fmt.Sprintf("Order #%s was assigned to you.", o.ShortID()),
			OrderID:     &o.ID,
			ImportID:    o.ImportID,
			Timestamp:   o.UpdatedAt,
		})
	}

	actorID := actor.ID
	details := map[string]any{"month": month.Format("2006-01")}
	if o.ImportID != nil {
		details["import_id"] = o.ImportID.String()
	}
	if o.ExternalOrderID != nil {
		details["external_order_id"] = *o.ExternalOrderID
	}
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionOrderCreated,
		ResourceType: "order",
		ResourceID:   o.ID.String(),
		After:        o.snapshot(),
		Details:      details,
		Timestamp:    o.UpdatedAt,
	}, notes...)
}

// ChangeStatus advances an order one step. The order row stays locked from
// the ownership check to the write, so two concurrent advances of the same
// order serialize and the loser sees the new status.
func (s *Service) ChangeStatus(ctx context.Context, actor users.Actor, orderID uuid.UUID, requested Status) (*Order, error) {
	if !actor.IsAdmin() && !actor.IsAgent() {
		return nil, fault.PermissionDenied("clients cannot change order status")
	}
	if !requested.Valid() {
		return nil, fault.Validation("unknown order status %q", requested)
	}

	var previous Status
	o, err := s.repo.Transition(ctx, orderID, func(o *Order) error {
		if actor.IsAgent() && (o.AgentID == nil || *o.AgentID != actor.ID) {
			return fault.PermissionDenied("order is not assigned to you")
		}
		if err := Transition(o.Status, requested); err != nil {
			return err
		}
		previous = o.Status
		o.Status = requested
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.NotFound("order %s not found", orderID)
		}
		if _, ok := fault.KindOf(err); ok {
			return nil, err
		}
		return nil, fault.Storage("changing order status", err)
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(previous), string(o.Status)).Inc()
	s.afterTransition(ctx, actor, o, previous)
	return o, nil
}

func (s *Service) afterTransition(ctx context.Context, actor users.Actor, o *Order, previous Status) {
	level := inats.LevelInfo
	if o.Status == StatusCompleted {
		level = inats.LevelSuccess
	}
	msg := fmt.Sprintf("Order #%s moved from %s to %s.", o.ShortID(), previous, o.Status)
	notes := []inats.NotificationEvent{{
		RecipientID: o.ClientID,
		Category:    inats.CategoryStatusChanged,
		Level:       level,
		Message:     msg,
		OrderID:     &o.ID,
		Timestamp:   o.UpdatedAt,
	}}

	if o.ImportID != nil && s.importers != nil {
		uploader, err := s.importers.UploaderOf(ctx, *o.ImportID)
		if err != nil {
			slog.Warn("resolving import uploader", "import_id", o.ImportID, "error", err)
		} else if uploader != nil && *uploader != o.ClientID {
			notes = append(notes, inats.NotificationEvent{
				RecipientID: *uploader,
				Category:    inats.CategoryStatusChanged,
				Level:       level,
				Message:     msg,
				OrderID:     &o.ID,
				ImportID:    o.ImportID,
				Timestamp:   o.UpdatedAt,
			})
		}
	}

	actorID := actor.ID
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionOrderStatusChanged,
		ResourceType: "order",
		ResourceID:   o.ID.String(),
		Before:       map[string]any{"status": previous},
		After:        map[string]any{"status": o.Status},
		Details:      map[string]any{"actor_role": actor.Role, "version": o.Version},
		Timestamp:    o.UpdatedAt,
	}, notes...)
}

// Get returns an order visible to actor: admins see all, agents their
// assigned orders and clients their own.
func (s *Service) Get(ctx context.Context, actor users.Actor, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fault.Storage("loading order", err)
	}
	if o == nil || !visible(actor, o) {
		return nil, fault.NotFound("order %s not found", id)
	}
	return o, nil
}

func visible(actor users.Actor, o *Order) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.IsAgent():
		return o.AgentID != nil && *o.AgentID == actor.ID
	case actor.IsClient():
		return o.ClientID == actor.ID
	}
	return false
}

// List pages through orders, newest first, scoped to what actor may see.
func (s *Service) List(ctx context.Context, actor users.Actor, params ListParams) ([]Order, int64, error) {
	id := actor.ID
	switch {
	case actor.IsAdmin():
	case actor.IsAgent():
		params.AgentID = &id
	case actor.IsClient():
		params.ClientID = &id
	default:
		return nil, 0, fault.PermissionDenied("unknown role %q", actor.Role)
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = DefaultListParams().PageSize
	}

	out, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, fault.Storage("listing orders", err)
	}
	if out == nil {
		out = []Order{}
	}
	return out, total, nil
}

// Stats aggregates all orders, or those created in month when it is non-nil.
func (s *Service) Stats(ctx context.Context, actor users.Actor, month *time.Time) (*Stats, error) {
	if !actor.IsAdmin() {
		return nil, fault.PermissionDenied("only administrators can view order statistics")
	}
	var from, to *time.Time
	if month != nil {
		start := quota.MonthOf(*month)
		end := start.AddDate(0, 1, 0)
		from, to = &start, &end
	}
	stats, err := s.repo.Stats(ctx, from, to)
	if err != nil {
		return nil, fault.Storage("aggregating orders", err)
	}
	if from != nil {
		stats.Month = from.Format("2006-01")
	}
	return stats, nil
}
