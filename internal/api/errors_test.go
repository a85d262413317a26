package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/fault"
)

type shortfallError struct{}

func (shortfallError) Error() string         { return "not enough B&W prints" }
func (shortfallError) FaultKind() fault.Kind { return fault.KindQuotaExceeded }
func (shortfallError) FaultDetails() any     { return map[string]int{"shortfall": 7} }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleError_EveryKind(t *testing.T) {
	tests := []struct {
		kind   fault.Kind
		status int
	}{
		{fault.KindValidation, http.StatusBadRequest},
		{fault.KindQuotaExceeded, http.StatusUnprocessableEntity},
		{fault.KindAgentLimitExceeded, http.StatusUnprocessableEntity},
		{fault.KindInvalidTransition, http.StatusConflict},
		{fault.KindDuplicateRow, http.StatusConflict},
		{fault.KindPermissionDenied, http.StatusForbidden},
		{fault.KindNotFound, http.StatusNotFound},
		{fault.KindStorage, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.kind))

			rec := httptest.NewRecorder()
			err := fmt.Errorf("creating order: %w", &fault.Error{Kind: tt.kind, Message: "boom"})
			HandleError(rec, err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, string(tt.kind), body["code"])
			if tt.kind == fault.KindStorage {
				assert.NotContains(t, body["error"], "boom")
			} else {
				assert.Equal(t, "boom", body["error"])
			}
		})
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fault.Kind("unknown")))
}

func TestHandleError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, fmt.Errorf("deducting: %w", shortfallError{}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "quota_exceeded", body["code"])
	assert.Equal(t, map[string]any{"shortfall": float64(7)}, body["details"])
}

func TestHandleError_AppErrorAndUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Nil(t, body["code"])

	rec = httptest.NewRecorder()
	HandleError(rec, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeError(t, rec)["error"])
}
