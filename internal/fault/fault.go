// Package fault defines the error kinds shared by the order and quota engine.
// Domain packages return typed errors that report one of these kinds; the API
// layer maps kinds to HTTP status codes without importing the domain packages.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindAgentLimitExceeded Kind = "agent_limit_exceeded"
	KindInvalidTransition  Kind = "invalid_transition"
	KindPermissionDenied   Kind = "permission_denied"
	KindDuplicateRow       Kind = "duplicate_row"
	KindStorage            Kind = "storage_fault"
	KindNotFound           Kind = "not_found"
)

// Coded is implemented by every error that carries a Kind.
type Coded interface {
	error
	FaultKind() Kind
}

// Detailed is implemented by errors that expose a machine-readable payload.
type Detailed interface {
	FaultDetails() any
}

// Error is the generic carrier for kinds without a dedicated type.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) FaultKind() Kind { return e.Kind }

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindStorage }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure. The message names the operation; the
// cause stays reachable through errors.Is/As.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the kind of the first Coded error in err's chain.
func KindOf(err error) (Kind, bool) {
	var c Coded
	if errors.As(err, &c) {
		return c.FaultKind(), true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
