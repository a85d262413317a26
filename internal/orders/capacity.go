package orders

import (
	"context"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/users"
)

// ActiveCounter counts an agent's pending, validated and processing orders.
type ActiveCounter interface {
	CountActiveForAgent(ctx context.Context, agentID uuid.UUID) (int, error)
}

// CapacityGuard limits how many active orders an agent may hold.
type CapacityGuard struct {
	counter ActiveCounter
	cfg     config.AgentsConfig
}

func NewCapacityGuard(counter ActiveCounter, cfg config.AgentsConfig) *CapacityGuard {
	return &CapacityGuard{counter: counter, cfg: cfg}
}

// CapFor returns the agent's override, clamped to the configured maximum, or
// the default cap.
func (g *CapacityGuard) CapFor(agent *users.User) int {
	if agent.MaxActiveOrders == nil {
		return g.cfg.CapDefault
	}
	c := *agent.MaxActiveOrders
	if c > g.cfg.CapMax {
		return g.cfg.CapMax
	}
	if c < 1 {
		return 1
	}
	return c
}

// CheckCapacity fails when one more order would put the agent over its cap.
// The order repository repeats this check under the agent row lock.
func (g *CapacityGuard) CheckCapacity(ctx context.Context, agent *users.User) error {
	count, err := g.counter.CountActiveForAgent(ctx, agent.ID)
	if err != nil {
		return fault.Storage("counting active orders", err)
	}
	if limit := g.CapFor(agent); count >= limit {
		return &CapacityError{AgentID: agent.ID, Count: count, Cap: limit}
	}
	return nil
}
