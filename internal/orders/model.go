package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/users"
)

type Order struct {
	ID              uuid.UUID  `json:"id"`
	ClientID        uuid.UUID  `json:"client_id"`
	AgentID         *uuid.UUID `json:"agent_id,omitempty"`
	Status          Status     `json:"status"`
	BWQuantity      int        `json:"bw_quantity"`
	ColorQuantity   int        `json:"color_quantity"`
	PaperDimensions string     `json:"paper_dimensions,omitempty"`
	PaperType       string     `json:"paper_type,omitempty"`
	Finishing       string     `json:"finishing,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ExternalOrderID *string    `json:"external_order_id,omitempty"`
	ImportID        *uuid.UUID `json:"import_id,omitempty"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (o *Order) ShortID() string {
	return o.ID.String()[:8]
}

func (o *Order) snapshot() map[string]any {
	return map[string]any{
		"client_id":      o.ClientID,
		"agent_id":       o.AgentID,
		"status":         o.Status,
		"bw_quantity":    o.BWQuantity,
		"color_quantity": o.ColorQuantity,
	}
}

// CreateRequest is the input of Service.Create. OrderedAt backdates an
// imported order; the quota month follows it.
type CreateRequest struct {
	Actor           users.Actor
	ClientID        uuid.UUID
	AgentID         *uuid.UUID
	BWQuantity      int
	ColorQuantity   int
	PaperDimensions string
	PaperType       string
	Finishing       string
	Notes           string
	ExternalOrderID string
	ImportID        *uuid.UUID
	OrderedAt       *time.Time
}

type ListParams struct {
	Status   *Status
	ClientID *uuid.UUID
	AgentID  *uuid.UUID
	ImportID *uuid.UUID
	Page     int
	PageSize int
}

func DefaultListParams() ListParams {
	return ListParams{Page: 1, PageSize: 20}
}

// Stats aggregates orders, optionally restricted to one month.
type Stats struct {
	Month         string           `json:"month,omitempty"`
	TotalOrders   int64            `json:"total_orders"`
	ByStatus      map[Status]int64 `json:"by_status"`
	BWTotal       int64            `json:"bw_total"`
	ColorTotal    int64            `json:"color_total"`
	ImportedTotal int64            `json:"imported_total"`
}
