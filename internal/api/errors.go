package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/versatiles/printops/internal/fault"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidCredentials = &AppError{Code: http.StatusUnauthorized, Message: "invalid email or password"}
	ErrAccountDisabled    = &AppError{Code: http.StatusForbidden, Message: "account is disabled"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrPayloadTooLarge    = &AppError{Code: http.StatusRequestEntityTooLarge, Message: "upload exceeds size limit"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindQuotaExceeded, fault.KindAgentLimitExceeded:
		return http.StatusUnprocessableEntity
	case fault.KindInvalidTransition, fault.KindDuplicateRow:
		return http.StatusConflict
	case fault.KindPermissionDenied:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError writes err as a JSON error body. Domain errors carry their kind
// as "code" and, where available, a machine-readable "details" payload.
func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}

	var coded fault.Coded
	if errors.As(err, &coded) {
		kind := coded.FaultKind()
		msg := coded.Error()
		if kind == fault.KindStorage {
			slog.Error("storage fault", "error", err)
			msg = "storage temporarily unavailable, retry the request"
		}
		var details any
		var d fault.Detailed
		if errors.As(err, &d) {
			details = d.FaultDetails()
		}
		writeJSON(w, StatusFor(kind), Response{Error: msg, Code: string(kind), Details: details})
		return
	}

	slog.Error("unhandled error", "error", err)
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
