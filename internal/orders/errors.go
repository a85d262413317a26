package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/fault"
)

var ErrNotFound = errors.New("order not found")

// CapacityError means the agent already holds Cap active orders.
type CapacityError struct {
	AgentID uuid.UUID
	Count   int
	Cap     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("agent %s already has %d active orders (cap %d)", e.AgentID, e.Count, e.Cap)
}

func (e *CapacityError) FaultKind() fault.Kind { return fault.KindAgentLimitExceeded }

func (e *CapacityError) FaultDetails() any {
	return map[string]any{"agent_id": e.AgentID, "active_orders": e.Count, "cap": e.Cap}
}

// TransitionError is a status change that is not a single forward step.
type TransitionError struct {
	Current   Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.Current, e.Requested)
}

func (e *TransitionError) FaultKind() fault.Kind { return fault.KindInvalidTransition }

func (e *TransitionError) FaultDetails() any {
	details := map[string]any{"current": e.Current, "requested": e.Requested}
	if n, ok := e.Current.Next(); ok {
		details["allowed"] = n
	}
	return details
}

// DuplicateError reports an external order id that already exists.
type DuplicateError struct {
	ExternalOrderID string
	ExistingOrderID *uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("external order id %q already imported", e.ExternalOrderID)
}

func (e *DuplicateError) FaultKind() fault.Kind { return fault.KindDuplicateRow }

func (e *DuplicateError) FaultDetails() any {
	details := map[string]any{"external_order_id": e.ExternalOrderID}
	if e.ExistingOrderID != nil {
		details["existing_order_id"] = *e.ExistingOrderID
	}
	return details
}
