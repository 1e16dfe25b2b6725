// ABOUTME: Tests for the local API routes against real services and mocked gateway ports
// ABOUTME: Checks status mapping, order intake, drain, sync, connectivity, and metrics
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/metrics"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	queuemocks "github.com/harperreed/vendas/queue/mocks"
	"github.com/harperreed/vendas/sync"
	syncmocks "github.com/harperreed/vendas/sync/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var seller = models.Session{UserID: "u-vend", UserName: "Vendedor", CompanyID: "c1", Role: "SELLER"}

type fixture struct {
	srv    *Server
	store  *db.Store
	gw     *queuemocks.MockGateway
	source *syncmocks.MockReferenceSource
}

func setup(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl := gomock.NewController(t)
	gw := queuemocks.NewMockGateway(ctrl)
	source := syncmocks.NewMockReferenceSource(ctrl)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mgr := queue.New(store, gw, queue.Options{Logger: zap.NewNop(), Metrics: m, SubmitTimeout: time.Second})
	orch := sync.New(store, source, mgr, sync.Options{CompanyID: "c1", Logger: zap.NewNop(), Metrics: m})
	mon := sync.NewMonitor(orch, zap.NewNop(), m)

	srv, err := NewServer(Options{
		Store:    store,
		Queue:    mgr,
		Sync:     orch,
		Monitor:  mon,
		Session:  seller,
		Gatherer: reg,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return fixture{srv: srv, store: store, gw: gw, source: source}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func orderBody(discount string) map[string]interface{} {
	return map[string]interface{}{
		"partner_code": "PARC1",
		"lines": []map[string]interface{}{{
			"product_code":  "P1",
			"product_group": "BEB",
			"quantity":      "2",
			"unit_price":    "10",
			"discount_pct":  discount,
		}},
	}
}

func seedDiscountPolicy(t *testing.T, store *db.Store) {
	t.Helper()
	require.NoError(t, db.BulkReplace(context.Background(), store, db.TablePolicies, "c1", []models.CommercialPolicy{{
		Code: "DESC15", CompanyID: "c1", Kind: models.RuleMaxDiscount, Threshold: decimal.NewFromInt(15), Active: true,
	}}))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidPayload, http.StatusBadRequest},
		{fmt.Errorf("order x: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrNotApprover, http.StatusForbidden},
		{models.ErrAlreadyResponded, http.StatusConflict},
		{models.ErrSyncInProgress, http.StatusConflict},
		{&models.ViolationsError{}, http.StatusUnprocessableEntity},
		{&models.RemoteError{StatusCode: 422, Message: "x"}, http.StatusUnprocessableEntity},
		{models.ErrNetworkUnavailable, http.StatusServiceUnavailable},
		{models.ErrUnauthenticated, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestEnqueueListAndDrain(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/orders", orderBody("0"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res queue.EnqueueResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.StatusPending, res.Order.Status)
	assert.Equal(t, "c1", res.Order.CompanyID)
	assert.Equal(t, "u-vend", res.Order.CreatedByID)

	w = f.do(t, http.MethodGet, "/api/queue?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.PendingOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	w = f.do(t, http.MethodGet, "/api/queue?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.gw.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).Return(int64(501), nil)
	w = f.do(t, http.MethodPost, "/api/queue/drain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report queue.DrainReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Confirmed)

	w = f.do(t, http.MethodGet, "/api/queue/counts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"PENDING":0,"IN_FLIGHT":0,"CONFIRMED":1,"FAILED":0}`, w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/queue/"+res.Order.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, "/api/queue/"+res.Order.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueViolationNeedsApproval(t *testing.T) {
	f := setup(t)
	seedDiscountPolicy(t, f.store)

	w := f.do(t, http.MethodPost, "/api/evaluate", orderBody("25"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "excede o limite de 15%")

	w = f.do(t, http.MethodPost, "/api/orders", orderBody("25"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Error      string             `json:"error"`
		Violations []models.Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Violations, 1)
	assert.Equal(t, models.RuleMaxDiscount, body.Violations[0].Kind)

	withApproval := orderBody("25")
	withApproval["approval"] = map[string]string{"approver_id": "u-mgr", "justification": "cliente chave"}
	w = f.do(t, http.MethodPost, "/api/orders", withApproval)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/approvals?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var approvals []models.ApprovalRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approvals))
	require.Len(t, approvals, 1)

	// The seller is not the selected approver.
	w = f.do(t, http.MethodPost, "/api/approvals/"+approvals[0].ID+"/respond", map[string]string{"status": "APROVADO"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSyncReportsStaleTables(t *testing.T) {
	f := setup(t)
	f.source.EXPECT().FetchReference(gomock.Any(), gomock.Any(), "c1").
		Return(nil, models.ErrNetworkUnavailable).
		Times(len(models.ReferenceEntities))

	w := f.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stale  bool        `json:"stale"`
		Report sync.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Stale)
	assert.Len(t, body.Report.Failed, len(models.ReferenceEntities))

	w = f.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":false`)
}

func TestConnectivityTriggersReconnect(t *testing.T) {
	f := setup(t)
	for _, table := range models.ReferenceEntities {
		f.source.EXPECT().FetchReference(gomock.Any(), table, "c1").Return([]byte(`[]`), nil)
	}

	w := f.do(t, http.MethodPost, "/api/connectivity", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":true,"reconnected":true}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced_this_session":true`)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vendas_gateway_online 1")
}

func TestDashboardRenders(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/orders", orderBody("0"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fila de pedidos")
	assert.Contains(t, w.Body.String(), "PARC1")
	assert.Contains(t, w.Body.String(), "PENDING: 1")
}
