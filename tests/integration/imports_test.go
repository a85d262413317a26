//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/users"
)

func TestImports_UploadApproveFlow(t *testing.T) {
	env := SetupTestEnv(t)
	_, clientEmail := CreateUser(t, env, users.RoleClient, nil)
	_, agentEmail := CreateUser(t, env, users.RoleAgent, nil)
	ext := fmt.Sprintf("IMP-%d", uniqueID())

	csv := "client_email,agent_email,bw_quantity,color_quantity,paper_dimensions,external_order_id\n" +
		fmt.Sprintf("%s,%s,100,0,A4,%s-1\n", clientEmail, agentEmail, ext) +
		fmt.Sprintf("%s,,0,50,A3,%s-2\n", clientEmail, ext) +
		fmt.Sprintf("%s,,0,0,A4,%s-3\n", clientEmail, ext) +
		fmt.Sprintf("missing-%d@printops.test,,10,0,A4,%s-4\n", uniqueID(), ext)

	resp := UploadCSV(t, env, "orders.csv", csv, env.AdminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := Data(t, resp)
	imp := body["import"].(map[string]any)
	preview := body["preview"].(map[string]any)
	importID := imp["id"].(string)
	assert.Equal(t, "pending_validation", imp["status"])
	assert.Equal(t, float64(4), preview["total_rows"])
	assert.Equal(t, float64(2), preview["valid_rows"])

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve", nil, env.AdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := Data(t, resp)
	assert.Equal(t, float64(2), summary["created"])
	assert.Equal(t, float64(2), summary["failed"])

	// A second approval is refused.
	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve", nil, env.AdminToken)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/imports/"+importID, nil, env.AdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := Data(t, resp)["import"].(map[string]any)
	assert.Equal(t, "validated", stored["status"])
	assert.Equal(t, float64(2), stored["created_rows"])
	assert.Equal(t, "Imported 2 orders. Errors: 2", stored["notes"])

	id := uuid.MustParse(importID)
	list, total, err := env.OrderSvc.List(context.Background(), env.Admin, orders.ListParams{ImportID: &id, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

func TestImports_ReimportIsIdempotent(t *testing.T) {
	env := SetupTestEnv(t)
	client, clientEmail := CreateUser(t, env, users.RoleClient, nil)
	csv := fmt.Sprintf("client_email,bw_quantity,external_order_id\n%s,40,DUP-%d\n", clientEmail, uniqueID())

	for i, wantCreated := range []float64{1, 0} {
		resp := UploadCSV(t, env, "again.csv", csv, env.AdminToken)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		importID := Data(t, resp)["import"].(map[string]any)["id"].(string)

		resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve", nil, env.AdminToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		summary := Data(t, resp)
		assert.Equal(t, wantCreated, summary["created"], "pass %d", i)
	}

	q, err := env.QuotaSvc.GetOrCreate(context.Background(), client.ID, env.QuotaSvc.CurrentMonth())
	require.NoError(t, err)
	assert.Equal(t, 40, q.BWUsed)
}

func TestImports_RejectAndPermissions(t *testing.T) {
	env := SetupTestEnv(t)
	_, clientEmail := CreateUser(t, env, users.RoleClient, nil)
	clientToken := LoginUser(t, env, clientEmail, testPassword)
	csv := fmt.Sprintf("client_email,bw_quantity\n%s,10\n", clientEmail)

	resp := UploadCSV(t, env, "client.csv", csv, clientToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = UploadCSV(t, env, "orders.txt", csv, env.AdminToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = UploadCSV(t, env, "reject.csv", csv, env.AdminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	importID := Data(t, resp)["import"].(map[string]any)["id"].(string)

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/reject", map[string]string{}, env.AdminToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/reject",
		map[string]string{"notes": "wrong month"}, env.AdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", Data(t, resp)["status"])

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve", nil, env.AdminToken)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestImports_ApproveWithCorrections(t *testing.T) {
	env := SetupTestEnv(t)
	_, clientEmail := CreateUser(t, env, users.RoleClient, nil)
	ext := fmt.Sprintf("FIX-%d", uniqueID())

	csv := "client_email,bw_quantity,external_order_id\n" +
		fmt.Sprintf("%s,ten,%s-1\n", clientEmail, ext) +
		fmt.Sprintf("%s,20,%s-2\n", clientEmail, ext)
	resp := UploadCSV(t, env, "fix.csv", csv, env.AdminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	importID := Data(t, resp)["import"].(map[string]any)["id"].(string)

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve",
		map[string]any{"corrections": map[string]any{"99": map[string]string{"bw_quantity": "1"}}}, env.AdminToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/imports/"+importID+"/approve",
		map[string]any{"corrections": map[string]any{"2": map[string]string{"bw_quantity": "10"}}}, env.AdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := Data(t, resp)
	assert.Equal(t, float64(2), summary["created"])
	assert.Equal(t, float64(0), summary["failed"])
}
