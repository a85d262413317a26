//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/users"
)

func TestOrders_ConcurrentDeductionsNeverOverdraw(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	client, _ := CreateUser(t, env, users.RoleClient, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, exceeded := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.OrderSvc.Create(ctx, orders.CreateRequest{
				Actor:      env.Admin,
				ClientID:   client.ID,
				BWQuantity: 200,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case fault.Is(err, fault.KindQuotaExceeded):
				exceeded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, created)
	assert.Equal(t, 5, exceeded)

	q, err := env.QuotaSvc.GetOrCreate(ctx, client.ID, env.QuotaSvc.CurrentMonth())
	require.NoError(t, err)
	assert.Equal(t, 3000, q.BWUsed)
}

func TestOrders_AgentCapacityUnderConcurrency(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	client, _ := CreateUser(t, env, users.RoleClient, nil)
	agent, _ := CreateUser(t, env, users.RoleAgent, ptr(3))

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, limited := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.OrderSvc.Create(ctx, orders.CreateRequest{
				Actor:         env.Admin,
				ClientID:      client.ID,
				AgentID:       &agent.ID,
				ColorQuantity: 10,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case fault.Is(err, fault.KindAgentLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	assert.Equal(t, 5, limited)

	// Losers were refunded.
	q, err := env.QuotaSvc.GetOrCreate(ctx, client.ID, env.QuotaSvc.CurrentMonth())
	require.NoError(t, err)
	assert.Equal(t, 30, q.ColorUsed)
}

func TestOrders_HTTPLifecycle(t *testing.T) {
	env := SetupTestEnv(t)
	client, clientEmail := CreateUser(t, env, users.RoleClient, nil)
	_, agentEmail := CreateUser(t, env, users.RoleAgent, nil)
	clientToken := LoginUser(t, env, clientEmail, testPassword)
	agentToken := LoginUser(t, env, agentEmail, testPassword)

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/orders", map[string]any{
		"bw_quantity":       120,
		"paper_dimensions":  "A4",
		"external_order_id": fmt.Sprintf("EXT-%d", uniqueID()),
	}, clientToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := Data(t, resp)
	orderID := order["id"].(string)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, client.ID.String(), order["client_id"])

	// Unassigned agent cannot touch the order.
	resp = DoRequest(t, env, http.MethodPost, "/api/v1/orders/"+orderID+"/status",
		map[string]string{"status": "validated"}, agentToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Clients never change status.
	resp = DoRequest(t, env, http.MethodPost, "/api/v1/orders/"+orderID+"/status",
		map[string]string{"status": "validated"}, clientToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Skipping a step is rejected.
	resp = DoRequest(t, env, http.MethodPost, "/api/v1/orders/"+orderID+"/status",
		map[string]string{"status": "completed"}, env.AdminToken)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", ParseResponse(t, resp)["code"])

	for _, next := range []string{"validated", "processing", "completed"} {
		resp = DoRequest(t, env, http.MethodPost, "/api/v1/orders/"+orderID+"/status",
			map[string]string{"status": next}, env.AdminToken)
		require.Equal(t, http.StatusOK, resp.StatusCode, next)
		assert.Equal(t, next, Data(t, resp)["status"])
	}

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/quotas/me", nil, clientToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bw := Data(t, resp)["bw"].(map[string]any)
	assert.Equal(t, float64(120), bw["used"])
	assert.Equal(t, float64(2880), bw["available"])
}

func TestOrders_QuotaExceededResponse(t *testing.T) {
	env := SetupTestEnv(t)
	client, _ := CreateUser(t, env, users.RoleClient, nil)

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/orders", map[string]any{
		"client_id":      client.ID,
		"color_quantity": 2001,
	}, env.AdminToken)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := ParseResponse(t, resp)
	assert.Equal(t, "quota_exceeded", body["code"])
	details := body["details"].(map[string]any)
	shortfalls := details["shortfalls"].([]any)
	require.Len(t, shortfalls, 1)
	assert.Equal(t, float64(1), shortfalls[0].(map[string]any)["shortfall"])
}

func TestOrders_ClientsAreIsolated(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	owner, _ := CreateUser(t, env, users.RoleClient, nil)
	_, otherEmail := CreateUser(t, env, users.RoleClient, nil)
	otherToken := LoginUser(t, env, otherEmail, testPassword)

	order, err := env.OrderSvc.Create(ctx, orders.CreateRequest{Actor: env.Admin, ClientID: owner.ID, BWQuantity: 5})
	require.NoError(t, err)

	resp := DoRequest(t, env, http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil, otherToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/quotas/"+owner.ID.String(), nil, otherToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/audit", nil, otherToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestOrders_TopupExtendsAllowance(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	client, _ := CreateUser(t, env, users.RoleClient, nil)

	_, err := env.QuotaSvc.ApplyTopup(ctx, quota.TopupRequest{
		ClientID: client.ID,
		AdminID:  env.Admin.ID,
		BWAdded:  1000,
	})
	require.NoError(t, err)

	_, err = env.OrderSvc.Create(ctx, orders.CreateRequest{Actor: env.Admin, ClientID: client.ID, BWQuantity: 3500})
	require.NoError(t, err)

	avail, err := env.QuotaSvc.Available(ctx, client.ID, env.QuotaSvc.CurrentMonth(), quota.KindBW)
	require.NoError(t, err)
	assert.Equal(t, 500, avail)
}
