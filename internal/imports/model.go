package imports

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingValidation Status = "pending_validation"
	StatusProcessing        Status = "processing"
	StatusValidated         Status = "validated"
	StatusRejected          Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingValidation, StatusProcessing, StatusValidated, StatusRejected:
		return true
	}
	return false
}

// Import is one uploaded CSV file and its review state.
type Import struct {
	ID               uuid.UUID  `json:"id"`
	UploadedBy       uuid.UUID  `json:"uploaded_by"`
	OriginalFilename string     `json:"original_filename"`
	Payload          []byte     `json:"-"`
	Status           Status     `json:"status"`
	RowCount         int        `json:"row_count"`
	ValidRows        int        `json:"valid_rows"`
	ErrorRows        int        `json:"error_rows"`
	CreatedRows      int        `json:"created_rows"`
	ValidatedBy      *uuid.UUID `json:"validated_by,omitempty"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	UploadedAt       time.Time  `json:"uploaded_at"`
}

// Row is one parsed CSV record. Errors holds the structural problems found
// while parsing; a row with errors is never turned into an order.
type Row struct {
	Number          int        `json:"row"`
	ClientID        *uuid.UUID `json:"client_id,omitempty"`
	ClientEmail     string     `json:"client_email,omitempty"`
	AgentID         *uuid.UUID `json:"agent_id,omitempty"`
	AgentEmail      string     `json:"agent_email,omitempty"`
	BWQuantity      int        `json:"bw_quantity"`
	ColorQuantity   int        `json:"color_quantity"`
	PaperDimensions string     `json:"paper_dimensions,omitempty"`
	PaperType       string     `json:"paper_type,omitempty"`
	Finishing       string     `json:"finishing,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ExternalOrderID string     `json:"external_order_id,omitempty"`
	OrderedAt       *time.Time `json:"order_date,omitempty"`
	Errors          []string   `json:"errors,omitempty"`

	raw map[string]string
}

func (r *Row) invalid(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Outcome is the result of processing one row.
type Outcome string

const (
	OutcomeCreated            Outcome = "created"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeQuotaExceeded      Outcome = "quota_exceeded"
	OutcomeAgentLimitExceeded Outcome = "agent_limit_exceeded"
	OutcomeValidationError    Outcome = "validation_error"
	OutcomeStorageFault       Outcome = "storage_fault"
)

type RowResult struct {
	Row     int        `json:"row"`
	Outcome Outcome    `json:"outcome"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
	Error   string     `json:"error,omitempty"`
	Details any        `json:"details,omitempty"`
}

// Summary is returned by Approve.
type Summary struct {
	ImportID uuid.UUID       `json:"import_id"`
	Total    int             `json:"total_rows"`
	Created  int             `json:"created"`
	Failed   int             `json:"failed"`
	Counts   map[Outcome]int `json:"counts"`
	Rows     []RowResult     `json:"rows"`
}

func (s *Summary) add(r RowResult) {
	s.Rows = append(s.Rows, r)
	s.Counts[r.Outcome]++
	s.Total++
	if r.Outcome == OutcomeCreated {
		s.Created++
	} else {
		s.Failed++
	}
}

// PreviewRow is a row with its identifiers resolved and every problem that
// would keep it from becoming an order.
type PreviewRow struct {
	Row
	ResolvedClientID *uuid.UUID `json:"resolved_client_id,omitempty"`
	ResolvedAgentID  *uuid.UUID `json:"resolved_agent_id,omitempty"`
	Valid            bool       `json:"valid"`
}

type Preview struct {
	ImportID  uuid.UUID    `json:"import_id"`
	Status    Status       `json:"status"`
	TotalRows int          `json:"total_rows"`
	ValidRows int          `json:"valid_rows"`
	ErrorRows int          `json:"error_rows"`
	Rows      []PreviewRow `json:"rows"`
}

type ListParams struct {
	Status   *Status
	Page     int
	PageSize int
}
