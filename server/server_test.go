// ABOUTME: Tests for the reference gateway routes over an in-memory SQLite store
// ABOUTME: Covers sessions, order dedup, partner re-validation, approvals, and reference reads
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupServer(t *testing.T) (*Server, *SQLStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.ApplySeed(context.Background(), DefaultSeed()))
	return New(store, zap.NewNop()), store
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func submission(localID, partner string, qty int64) models.Submission {
	return models.Submission{
		LocalID:   localID,
		CompanyID: "c1",
		Origin:    models.OriginOfflineSale,
		SellerID:  "u-vend",
		Payload: models.OrderPayload{
			PartnerCode: partner,
			State:       "SP",
			Lines: []models.OrderLine{{
				ProductCode:  "P1",
				ProductGroup: "BEB",
				Quantity:     decimal.NewFromInt(qty),
				UnitPrice:    decimal.NewFromInt(10),
				DiscountPct:  decimal.Zero,
			}},
		},
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealthNeedsNoSession(t *testing.T) {
	s, _ := setupServer(t)
	w := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRequired(t *testing.T) {
	s, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/orders", "", submission("L1", "PARC1", 1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/orders", "unknown", submission("L1", "PARC1", 1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/reference/products?companyId=c1", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "dev-seller"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitOrderAssignsIDsAndDeduplicates(t *testing.T) {
	s, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/orders", "dev-seller", submission("L1", "PARC1", 1))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"serverId":501}`, w.Body.String())

	w = do(t, s, http.MethodPost, "/orders", "dev-seller", submission("L2", "PARC1", 1))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"serverId":502}`, w.Body.String())

	w = do(t, s, http.MethodPost, "/orders", "dev-seller", submission("L1", "PARC1", 1))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"serverId":501}`, w.Body.String())
}

func TestSubmitOrderRevalidatesPartner(t *testing.T) {
	s, _ := setupServer(t)

	tests := []struct {
		name    string
		sub     models.Submission
		message string
	}{
		{"unknown partner", submission("L1", "NOPE", 1), "parceiro NOPE não encontrado"},
		{"inactive partner", submission("L2", "PARC9", 1), "parceiro PARC9 inativo"},
		{"credit exceeded", submission("L3", "PARC2", 100), "limite de crédito excedido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/orders", "dev-seller", tt.sub)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Contains(t, errorMessage(t, w), tt.message)
		})
	}
}

func TestSubmitOrderRejectsOtherCompany(t *testing.T) {
	s, _ := setupServer(t)
	sub := submission("L1", "PARC1", 1)
	sub.CompanyID = "c2"

	w := do(t, s, http.MethodPost, "/orders", "dev-seller", sub)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestApprovalWorkflow(t *testing.T) {
	s, _ := setupServer(t)
	reg := map[string]interface{}{
		"id":            "ap1",
		"orderId":       "L9",
		"companyId":     "c1",
		"approverId":    "u-mgr",
		"requesterId":   "u-vend",
		"justification": "cliente estratégico",
		"violations":    []models.Violation{{Kind: models.RuleMaxDiscount, Message: "desconto acima"}},
	}

	w := do(t, s, http.MethodPost, "/orders/approvals", "dev-seller", reg)
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, s, http.MethodPost, "/orders/approvals", "dev-seller", reg)
	require.Equal(t, http.StatusCreated, w.Code, "registration is idempotent")

	w = do(t, s, http.MethodGet, "/orders/approvals/ap1", "dev-seller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state models.ApprovalState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, models.ApprovalPending, state.Status)

	// An order pointing at a pending approval is held back.
	sub := submission("L9", "PARC2", 100)
	sub.ApprovalID = "ap1"
	w = do(t, s, http.MethodPost, "/orders", "dev-seller", sub)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPatch, "/orders/approvals/ap1", "dev-seller", map[string]string{"status": "APROVADO"})
	assert.Equal(t, http.StatusForbidden, w.Code, "only the selected approver answers")

	w = do(t, s, http.MethodPatch, "/orders/approvals/ap1", "dev-manager", map[string]string{"status": "PENDING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPatch, "/orders/approvals/ap1", "dev-manager", map[string]string{"status": "APROVADO", "justification": "ok"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, models.ApprovalApproved, state.Status)
	assert.Equal(t, "u-mgr", state.ResponderID)
	assert.NotNil(t, state.RespondedAt)

	w = do(t, s, http.MethodPatch, "/orders/approvals/ap1", "dev-manager", map[string]string{"status": "REJEITADO"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Approved exceptions cover the credit limit.
	w = do(t, s, http.MethodPost, "/orders", "dev-seller", sub)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodGet, "/orders/approvals/missing", "dev-seller", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitOrderCountsAcceptedOrdersAgainstCredit(t *testing.T) {
	s, _ := setupServer(t)

	// PARC2 has a R$ 1000 limit; 50 x R$ 10 plus 18% ICMS is R$ 590.
	w := do(t, s, http.MethodPost, "/orders", "dev-seller", submission("A1", "PARC2", 50))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodPost, "/orders", "dev-seller", submission("A2", "PARC2", 50))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, errorMessage(t, w), "limite de crédito excedido")
	assert.Contains(t, errorMessage(t, w), "1180.00")

	// Other partners keep their own exposure.
	w = do(t, s, http.MethodPost, "/orders", "dev-seller", submission("A3", "PARC1", 50))
	assert.Equal(t, http.StatusCreated, w.Code)

	// A replay of the accepted order is still answered with its id.
	w = do(t, s, http.MethodPost, "/orders", "dev-seller", submission("A1", "PARC2", 50))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"serverId":501}`, w.Body.String())
}

func TestGetReference(t *testing.T) {
	s, _ := setupServer(t)

	w := do(t, s, http.MethodGet, "/reference/products?companyId=c1", "dev-seller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products, err := models.DecodeList[models.Product](w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "P1", products[0].Code)

	w = do(t, s, http.MethodGet, "/reference/routes", "dev-seller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Centro")

	w = do(t, s, http.MethodGet, "/reference/unknown?companyId=c1", "dev-seller", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/reference/products?companyId=c2", "dev-seller", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPutReferenceRequiresKey(t *testing.T) {
	_, store := setupServer(t)
	_, err := store.PutReference(context.Background(), models.EntityProducts,
		[]json.RawMessage{json.RawMessage(`{"name":"sem código","company_id":"c1"}`)})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	_, err = store.PutReference(context.Background(), "widgets", nil)
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestSQLStoreHelpers(t *testing.T) {
	_, store := setupServer(t)
	ctx := context.Background()

	row, err := store.ExecuteOne(ctx, `SELECT user_id FROM sessions WHERE token = ?`, "nobody")
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := store.ExecuteQuery(ctx, `SELECT token FROM sessions ORDER BY token`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "dev-manager", rows[0].String("token"))

	n, err := store.Exec(ctx, `DELETE FROM sessions WHERE token = ?`, "dev-manager")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
