package quota

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/fault"
)

var (
	// ErrLedgerIntegrity means a row's available balance is negative.
	ErrLedgerIntegrity = errors.New("quota ledger integrity violation")
	// ErrLockTimeout means the row lock was not acquired in time; nothing changed.
	ErrLockTimeout = errors.New("timed out waiting for quota lock")
)

// Shortfall describes one kind that cannot cover a request.
type Shortfall struct {
	Kind        Kind    `json:"kind"`
	Requested   int     `json:"requested"`
	Available   int     `json:"available"`
	Shortfall   int     `json:"shortfall"`
	Limit       int     `json:"limit"`
	Used        int     `json:"used"`
	PercentUsed float64 `json:"percentage_used"`
}

// ExceededError is returned when a request exceeds the available allowance of
// at least one kind. Nothing is deducted.
type ExceededError struct {
	ClientID   uuid.UUID
	Month      time.Time
	Shortfalls []Shortfall
}

func (e *ExceededError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("insufficient %s quota: requested %d, available %d (shortfall %d, %.2f%% used)",
			s.Kind.Label(), s.Requested, s.Available, s.Shortfall, s.PercentUsed))
	}
	return strings.Join(parts, "; ")
}

func (e *ExceededError) FaultKind() fault.Kind { return fault.KindQuotaExceeded }

func (e *ExceededError) FaultDetails() any {
	return map[string]any{
		"month":      e.Month.Format("2006-01"),
		"shortfalls": e.Shortfalls,
	}
}

// Shortfall returns the shortfall for kind, or false if that kind was covered.
func (e *ExceededError) Shortfall(kind Kind) (Shortfall, bool) {
	for _, s := range e.Shortfalls {
		if s.Kind == kind {
			return s, true
		}
	}
	return Shortfall{}, false
}
