// ABOUTME: Tests for the CLI commands against a live reference gateway
// ABOUTME: Runs sync, order, queue, approval, and session commands and checks their output
package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/config"
	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/gateway"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const plainOrder = `{"partner_code":"PARC1","state":"SP","lines":[{"product_code":"P1","product_group":"BEB","quantity":"1","unit_price":"10","discount_pct":"0"}]}`

const discountedOrder = `{"partner_code":"PARC1","state":"SP","lines":[{"product_code":"P1","product_group":"BEB","quantity":"1","unit_price":"10","discount_pct":"20"}]}`

func setupApp(t *testing.T, token string, session models.Session) (*App, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqlStore, err := server.OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	require.NoError(t, sqlStore.ApplySeed(context.Background(), server.DefaultSeed()))

	ts := httptest.NewServer(server.New(sqlStore, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)

	client, err := gateway.New(ts.URL, gateway.WithToken(token))
	require.NoError(t, err)

	store, err := db.OpenInMemory(zap.NewNop())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.GatewayURL = ts.URL
	cfg.Token = token
	cfg.Session = session

	app := NewApp(cfg, store, client, zap.NewNop())
	t.Cleanup(func() { _ = app.Close() })

	var out bytes.Buffer
	app.Out = &out
	return app, &out
}

func sellerApp(t *testing.T) (*App, *bytes.Buffer) {
	return setupApp(t, "dev-seller", models.Session{UserID: "u-vend", UserName: "Vendedor", CompanyID: "c1", Role: "SELLER"})
}

func writeOrder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "order.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestSyncNowAndStatus(t *testing.T) {
	app, out := sellerApp(t)
	ctx := context.Background()

	require.NoError(t, SyncNowCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "✓ partners")
	assert.Contains(t, out.String(), "✓ Sync complete")

	out.Reset()
	require.NoError(t, SyncStatusCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Company: c1")
	assert.Contains(t, out.String(), "Last sync:")
	assert.NotContains(t, out.String(), "never completed")
	assert.Contains(t, out.String(), "partners")
}

func TestOrderLifecycle(t *testing.T) {
	app, out := sellerApp(t)
	ctx := context.Background()
	require.NoError(t, SyncNowCommand(ctx, app, nil))

	out.Reset()
	require.NoError(t, OrderEvaluateCommand(ctx, app, []string{"--file", writeOrder(t, plainOrder)}))
	assert.Contains(t, out.String(), "Gross:    R$ 10.00")
	assert.Contains(t, out.String(), "No policy violations")

	out.Reset()
	require.NoError(t, OrderAddCommand(ctx, app, []string{"--file", writeOrder(t, plainOrder)}))
	assert.Contains(t, out.String(), "✓ Order queued")

	out.Reset()
	require.NoError(t, QueueCountCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "PENDING    1")

	out.Reset()
	require.NoError(t, QueueDrainCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Confirmed: 1")
	assert.Contains(t, out.String(), "server order 501")

	orders, err := app.Queue.List(ctx, models.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	out.Reset()
	require.NoError(t, QueueListCommand(ctx, app, []string{"--status", "confirmed"}))
	assert.Contains(t, out.String(), orders[0].ID)
	assert.Contains(t, out.String(), "501")

	require.NoError(t, QueueAckCommand(ctx, app, []string{orders[0].ID}))
	assert.Error(t, QueueAckCommand(ctx, app, []string{orders[0].ID}))
	assert.Error(t, QueueAckCommand(ctx, app, nil))

	out.Reset()
	require.NoError(t, QueuePurgeCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Purged 0")

	assert.Error(t, QueueListCommand(ctx, app, []string{"--status", "lost"}))
}

func TestOrderNeedingApproval(t *testing.T) {
	app, out := sellerApp(t)
	ctx := context.Background()
	require.NoError(t, SyncNowCommand(ctx, app, nil))
	path := writeOrder(t, discountedOrder)

	out.Reset()
	err := OrderAddCommand(ctx, app, []string{"--file", path})
	require.ErrorIs(t, err, models.ErrApprovalRequired)
	assert.Contains(t, out.String(), "needs approval")

	out.Reset()
	require.NoError(t, OrderAddCommand(ctx, app, []string{"--file", path, "--approver", "u-mgr", "--justification", "cliente estratégico"}))
	assert.Contains(t, out.String(), "Approval requested from u-mgr")

	out.Reset()
	require.NoError(t, QueueDrainCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Waiting for approval: 1")

	out.Reset()
	require.NoError(t, ApprovalListCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "u-mgr")

	approvals, err := app.Queue.Approvals(ctx)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	err = ApprovalRespondCommand(ctx, app, []string{"--status", "aprovado", approvals[0].ID})
	assert.ErrorIs(t, err, models.ErrNotApprover)
	assert.Error(t, ApprovalRespondCommand(ctx, app, []string{approvals[0].ID}))
}

func TestRetryOnlyRetryableByDefault(t *testing.T) {
	app, out := sellerApp(t)
	ctx := context.Background()
	require.NoError(t, SyncNowCommand(ctx, app, nil))

	// PARC9 is inactive on the server.
	inactive := `{"partner_code":"PARC9","lines":[{"product_code":"P1","quantity":"1","unit_price":"10"}]}`
	require.NoError(t, OrderAddCommand(ctx, app, []string{"--file", writeOrder(t, inactive)}))
	require.NoError(t, QueueDrainCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "parceiro PARC9 inativo")

	out.Reset()
	require.NoError(t, QueueRetryCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Requeued: 0")

	out.Reset()
	require.NoError(t, QueueRetryCommand(ctx, app, []string{"--all"}))
	assert.Contains(t, out.String(), "Requeued: 1")
	assert.Contains(t, out.String(), "Failed: 1")
}

func TestReadOrderFileRejectsUnknownFields(t *testing.T) {
	app, _ := sellerApp(t)
	_, err := app.readOrderFile(writeOrder(t, `{"partner":"PARC1"}`))
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	app.In = bytes.NewBufferString(plainOrder)
	of, err := app.readOrderFile("-")
	require.NoError(t, err)
	assert.Equal(t, "c1", of.CompanyID)
	assert.Equal(t, "PARC1", of.PartnerCode)
}

func TestSessionSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("dev-seller\n"), 0600))
	stdin, err := os.Open(tokenFile)
	require.NoError(t, err)
	defer stdin.Close()

	var out bytes.Buffer
	cfg := config.Default()
	err = SessionSetCommand(cfg, path, []string{"--user", "u-vend", "--company", "c1", "--gateway", "http://erp:8080/"}, stdin, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Session saved for u-vend (c1)")

	loaded, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "dev-seller", loaded.Token)
	assert.Equal(t, "http://erp:8080", loaded.GatewayURL)
	assert.Equal(t, "SELLER", loaded.Session.Role)

	out.Reset()
	require.NoError(t, SessionShowCommand(loaded, &out))
	assert.Contains(t, out.String(), "Company: c1")
	assert.NotContains(t, out.String(), "dev-seller")

	assert.Error(t, SessionSetCommand(cfg, path, []string{"--company", "c1"}, stdin, &out))
}

func TestOpenRequiresSession(t *testing.T) {
	_, err := Open(config.Default(), zap.NewNop())
	assert.Error(t, err)
}

func TestMCPServerBuilds(t *testing.T) {
	app, _ := sellerApp(t)
	assert.NotNil(t, NewMCPServer(app, "test"))
}
