package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Category        string     `json:"category"`
	Level           string     `json:"level"`
	Message         string     `json:"message"`
	RelatedOrderID  *uuid.UUID `json:"related_order_id,omitempty"`
	RelatedImportID *uuid.UUID `json:"related_import_id,omitempty"`
	IsRead          bool       `json:"is_read"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ListParams struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}

// Page is one page of a user's notifications plus their unread total.
type Page struct {
	Items  []Notification `json:"items"`
	Total  int64          `json:"total_count"`
	Unread int64          `json:"unread_count"`
}
