package orders

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is an order's lifecycle state. The lowercase name is the only
// representation used in JSON, query strings and the database.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidated  Status = "validated"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusPending, StatusValidated, StatusProcessing, StatusCompleted}

var next = map[Status]Status{
	StatusPending:    StatusValidated,
	StatusValidated:  StatusProcessing,
	StatusProcessing: StatusCompleted,
}

// ParseStatus accepts any casing and surrounding whitespace and rejects
// everything that is not one of the four states.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// Active orders count toward an agent's capacity.
func (s Status) Active() bool {
	return s.Valid() && s != StatusCompleted
}

// Next returns the only state s may advance to.
func (s Status) Next() (Status, bool) {
	n, ok := next[s]
	return n, ok
}

func CanTransition(from, to Status) bool {
	n, ok := next[from]
	return ok && n == to
}

// Transition validates a single forward step.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{Current: from, Requested: to}
	}
	return nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order status must be a string: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
