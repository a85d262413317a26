// Package orderstest provides an in-memory orders.Repository for tests.
package orderstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/orders"
)

// Repository holds orders in memory. A single mutex stands in for the row
// locks of the Postgres implementation.
type Repository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]orders.Order

	// BeforeInsert runs inside Insert before anything is stored. A non-nil
	// error aborts the insert.
	BeforeInsert func(ctx context.Context, o *orders.Order) error
	// Err, when set, is returned by every call.
	Err error
}

func NewRepository() *Repository {
	return &Repository{orders: make(map[uuid.UUID]orders.Order)}
}

// Add stores o directly, bypassing the service.
func (r *Repository) Add(o orders.Order) *orders.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = orders.StatusPending
	}
	if o.Version == 0 {
		o.Version = 1
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
		o.UpdatedAt = o.CreatedAt
	}
	r.orders[o.ID] = o
	return &o
}

// Len returns the number of stored orders.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *Repository) countLocked(agentID uuid.UUID) int {
	n := 0
	for _, o := range r.orders {
		if o.AgentID != nil && *o.AgentID == agentID && o.Status.Active() {
			n++
		}
	}
	return n
}

func (r *Repository) CountActiveForAgent(_ context.Context, agentID uuid.UUID) (int, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(agentID), nil
}

func (r *Repository) Insert(ctx context.Context, o *orders.Order, agentCap int) error {
	if r.Err != nil {
		return r.Err
	}
	if r.BeforeInsert != nil {
		if err := r.BeforeInsert(ctx, o); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o.AgentID != nil {
		if count := r.countLocked(*o.AgentID); count >= agentCap {
			return &orders.CapacityError{AgentID: *o.AgentID, Count: count, Cap: agentCap}
		}
	}
	if o.ExternalOrderID != nil {
		for _, existing := range r.orders {
			if existing.ExternalOrderID != nil && *existing.ExternalOrderID == *o.ExternalOrderID {
				return &orders.DuplicateError{ExternalOrderID: *o.ExternalOrderID}
			}
		}
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *Repository) GetByID(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *Repository) GetByExternalID(_ context.Context, externalID string) (*orders.Order, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ExternalOrderID != nil && *o.ExternalOrderID == externalID {
			return &o, nil
		}
	}
	return nil, nil
}

func (r *Repository) Transition(_ context.Context, id uuid.UUID, apply func(o *orders.Order) error) (*orders.Order, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if err := apply(&o); err != nil {
		return nil, err
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return &o, nil
}

func (r *Repository) List(_ context.Context, params orders.ListParams) ([]orders.Order, int64, error) {
	if r.Err != nil {
		return nil, 0, r.Err
	}
	r.mu.Lock()
	var matched []orders.Order
	for _, o := range r.orders {
		if params.Status != nil && o.Status != *params.Status {
			continue
		}
		if params.ClientID != nil && o.ClientID != *params.ClientID {
			continue
		}
		if params.AgentID != nil && (o.AgentID == nil || *o.AgentID != *params.AgentID) {
			continue
		}
		if params.ImportID != nil && (o.ImportID == nil || *o.ImportID != *params.ImportID) {
			continue
		}
		matched = append(matched, o)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := min(start+params.PageSize, len(matched))
	return matched[start:end], total, nil
}

func (r *Repository) Stats(_ context.Context, from, to *time.Time) (*orders.Stats, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &orders.Stats{ByStatus: make(map[orders.Status]int64, len(orders.Statuses))}
	for _, s := range orders.Statuses {
		stats.ByStatus[s] = 0
	}
	for _, o := range r.orders {
		if from != nil && (o.CreatedAt.Before(*from) || !o.CreatedAt.Before(*to)) {
			continue
		}
		stats.ByStatus[o.Status]++
		stats.TotalOrders++
		stats.BWTotal += int64(o.BWQuantity)
		stats.ColorTotal += int64(o.ColorQuantity)
		if o.ImportID != nil {
			stats.ImportedTotal++
		}
	}
	return stats, nil
}
