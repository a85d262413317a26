package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Log is one persisted audit entry.
type Log struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      *uuid.UUID      `json:"actor_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Details      json.RawMessage `json:"details"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListParams filters audit listings. Zero values match everything.
type ListParams struct {
	Action       string
	ActorID      *uuid.UUID
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

func DefaultListParams() ListParams {
	return ListParams{Page: 1, PageSize: 50}
}
