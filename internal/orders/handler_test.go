package orders_test

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

	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/users"
)

func serve(handler http.HandlerFunc, actor users.Actor, method, target, body string, params map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(users.WithActor(ctx, actor))

	rec := httptest.NewRecorder()
	handler(rec, req)
	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestHandler_CreateOrder(t *testing.T) {
	f := newFixture(t)
	h := orders.NewHandler(f.svc)

	rec, body := serve(h.Create, f.client.Actor(), http.MethodPost, "/orders", `{"bw_quantity":100}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, f.client.ID.String(), data["client_id"])
	assert.Equal(t, "pending", data["status"])

	rec, body = serve(h.Create, f.client.Actor(), http.MethodPost, "/orders", `{"bw_quantity":5000}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "quota_exceeded", body["code"])
	shortfalls := body["details"].(map[string]any)["shortfalls"].([]any)
	require.Len(t, shortfalls, 1)

	rec, _ = serve(h.Create, f.admin.Actor(), http.MethodPost, "/orders", `{"bw_quantity":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "admins must name the client")

	rec, _ = serve(h.Create, f.client.Actor(), http.MethodPost, "/orders", `{"bw_quantity":1,"price":3}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = serve(h.Create, f.client.Actor(), http.MethodPost, "/orders", `{"bw_quantity":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestHandler_ChangeStatus(t *testing.T) {
	f := newFixture(t)
	h := orders.NewHandler(f.svc)
	o, err := f.svc.Create(context.Background(), f.request(10, 0))
	require.NoError(t, err)
	params := map[string]string{"orderID": o.ID.String()}

	rec, body := serve(h.ChangeStatus, f.client.Actor(), http.MethodPost, "/status", `{"status":"validated"}`, params)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", body["code"])

	rec, body = serve(h.ChangeStatus, f.admin.Actor(), http.MethodPost, "/status", `{"status":"completed"}`, params)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", body["code"])

	rec, _ = serve(h.ChangeStatus, f.admin.Actor(), http.MethodPost, "/status", `{"status":"shipped"}`, params)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = serve(h.ChangeStatus, f.admin.Actor(), http.MethodPost, "/status", `{"status":"validated"}`, params)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "validated", body["data"].(map[string]any)["status"])
}

func TestHandler_GetAndList(t *testing.T) {
	f := newFixture(t)
	h := orders.NewHandler(f.svc)
	o, err := f.svc.Create(context.Background(), f.request(10, 0))
	require.NoError(t, err)

	rec, _ := serve(h.Get, f.client.Actor(), http.MethodGet, "/orders/x", "", map[string]string{"orderID": o.ID.String()})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := serve(h.Get, f.agent.Actor(), http.MethodGet, "/orders/x", "", map[string]string{"orderID": o.ID.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])

	rec, _ = serve(h.Get, f.admin.Actor(), http.MethodGet, "/orders/x", "", map[string]string{"orderID": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = serve(h.List, f.client.Actor(), http.MethodGet, "/orders?status=pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_count"])

	rec, _ = serve(h.List, f.client.Actor(), http.MethodGet, "/orders?status=lost", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(h.List, f.client.Actor(), http.MethodGet, "/orders?import_id="+uuid.NewString()[:8], "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
