package quota_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/users"
	"github.com/versatiles/printops/internal/users/userstest"
)

func serve(handler http.HandlerFunc, actor users.Actor, method, target, body, clientID string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("clientID", clientID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(users.WithActor(ctx, actor))

	rec := httptest.NewRecorder()
	handler(rec, req)
	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestHandler_Summary(t *testing.T) {
	svc, _, _ := newService(t)
	people := userstest.NewRepository()
	client := people.Add(users.User{Email: "client@example.com", Role: users.RoleClient, IsActive: true})
	other := people.Add(users.User{Email: "other@example.com", Role: users.RoleClient, IsActive: true})
	admin := people.Add(users.User{Email: "admin@example.com", Role: users.RoleAdmin, IsActive: true})
	h := quota.NewHandler(svc, people)

	_, err := svc.Deduct(context.Background(), client.ID, client.ID, october, 100, 0)
	require.NoError(t, err)

	rec, body := serve(h.GetSummary, client.Actor(), http.MethodGet, "/quotas/me", "", "me")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bw := body["data"].(map[string]any)["bw"].(map[string]any)
	assert.Equal(t, float64(100), bw["used"])
	assert.Equal(t, float64(2900), bw["available"])

	rec, _ = serve(h.GetSummary, admin.Actor(), http.MethodGet, "/quotas/"+client.ID.String()+"?month=2026-10", "", client.ID.String())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(h.GetSummary, admin.Actor(), http.MethodGet, "/quotas/me", "", "me")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = serve(h.GetSummary, other.Actor(), http.MethodGet, "/quotas/x", "", client.ID.String())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", body["code"])

	rec, _ = serve(h.GetSummary, client.Actor(), http.MethodGet, "/quotas/me?month=2026-13", "", "me")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Topups(t *testing.T) {
	svc, _, _ := newService(t)
	people := userstest.NewRepository()
	client := people.Add(users.User{Email: "client@example.com", Role: users.RoleClient, IsActive: true})
	admin := people.Add(users.User{Email: "admin@example.com", Role: users.RoleAdmin, IsActive: true})
	h := quota.NewHandler(svc, people)
	id := client.ID.String()

	rec, _ := serve(h.ApplyTopup, client.Actor(), http.MethodPost, "/topups", `{"bw_added":1000}`, id)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := serve(h.ApplyTopup, admin.Actor(), http.MethodPost, "/topups", `{"bw_added":500}`, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["code"])

	rec, body = serve(h.ApplyTopup, admin.Actor(), http.MethodPost, "/topups", `{"bw_added":1000}`, uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])

	rec, _ = serve(h.ApplyTopup, admin.Actor(), http.MethodPost, "/topups", `{"bw_added":1000,"notes":"campaign"}`, id)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body = serve(h.ListTopups, client.Actor(), http.MethodGet, "/topups", "", id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 1)
}
