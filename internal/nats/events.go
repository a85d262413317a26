package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "PRINTOPS_EVENTS"
)

// Subject constants.
const (
	SubjectAuditEvent        = "printops.events.audit"
	SubjectNotificationEvent = "printops.events.notify"
)

// Audit actions.
const (
	ActionQuotaDeducted      = "quota.deducted"
	ActionQuotaRefunded      = "quota.refunded"
	ActionQuotaTopup         = "quota.topup_applied"
	ActionOrderCreated       = "order.created"
	ActionOrderStatusChanged = "order.status_changed"
	ActionImportUploaded     = "import.uploaded"
	ActionImportValidated    = "import.validated"
	ActionImportRejected     = "import.rejected"
	ActionUserCreated        = "user.created"
	ActionAgentCapacitySet   = "user.capacity_set"
)

// Notification categories.
const (
	CategoryOrderCreated  = "order_created"
	CategoryOrderAssigned = "order_assigned"
	CategoryStatusChanged = "order_status_changed"
	CategoryQuotaWarning  = "quota_warning"
	CategoryTopupApplied  = "quota_topup"
	CategoryImportResult  = "import_result"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// AuditEvent is published on every quota mutation, order creation and status
// change, and import decision.
type AuditEvent struct {
	ActorID      *uuid.UUID     `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NotificationEvent asks the notification collaborator to inform one user.
type NotificationEvent struct {
	RecipientID uuid.UUID  `json:"recipient_id"`
	Category    string     `json:"category"`
	Level       string     `json:"level"`
	Message     string     `json:"message"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	ImportID    *uuid.UUID `json:"import_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
