package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/versatiles/printops/internal/users"
)

func serveList(h *Handler, actor *users.Actor, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if actor != nil {
		req = req.WithContext(users.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	h.List(rec, req)
	return rec
}

func TestHandlerList_AdminOnly(t *testing.T) {
	store := newMemStore()
	_ = store.Insert(context.Background(), &Log{ID: uuid.New(), Action: "order.created"})
	h := NewHandler(store)

	rec := serveList(h, nil, "/audit")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serveList(h, &users.Actor{ID: uuid.New(), Role: users.RoleClient}, "/audit")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveList(h, &users.Actor{ID: uuid.New(), Role: users.RoleAdmin}, "/audit?action=order.created")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":1`)
}

func TestHandlerList_BadFilters(t *testing.T) {
	h := NewHandler(newMemStore())
	admin := &users.Actor{ID: uuid.New(), Role: users.RoleAdmin}

	for _, target := range []string{"/audit?actor_id=nope", "/audit?from=yesterday", "/audit?to=2026-13-01"} {
		rec := serveList(h, admin, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
