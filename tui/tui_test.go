// ABOUTME: Tests for the queue dashboard model
// ABOUTME: Drives key presses and completion messages through Update and checks the rendered view
package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	queuemocks "github.com/harperreed/vendas/queue/mocks"
	"github.com/harperreed/vendas/sync"
	syncmocks "github.com/harperreed/vendas/sync/mocks"
)

var seller = models.Session{UserID: "u-vend", UserName: "Vendedor", CompanyID: "c1"}

func setupModel(t *testing.T) (Model, *queue.Manager, *queuemocks.MockGateway, *syncmocks.MockReferenceSource) {
	t.Helper()
	store, err := db.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl := gomock.NewController(t)
	gw := queuemocks.NewMockGateway(ctrl)
	source := syncmocks.NewMockReferenceSource(ctrl)
	mgr := queue.New(store, gw, queue.Options{Logger: zap.NewNop(), SubmitTimeout: time.Second})
	orch := sync.New(store, source, mgr, sync.Options{CompanyID: "c1", Logger: zap.NewNop()})

	m := NewModel(mgr, orch, seller)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m, mgr, gw, source
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run feeds a command's message back into the model, the way the program loop would.
func run(t *testing.T, m Model, cmd tea.Cmd) (Model, tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	updated, next := m.Update(cmd())
	return updated.(Model), next
}

func enqueue(t *testing.T, mgr *queue.Manager) models.PendingOrder {
	t.Helper()
	res, err := mgr.Enqueue(context.Background(), queue.EnqueueRequest{
		Seller: seller,
		Draft: models.OrderDraft{OrderPayload: models.OrderPayload{
			PartnerCode: "PARC1",
			Lines: []models.OrderLine{{
				ProductCode: "P1",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   decimal.NewFromInt(10),
			}},
		}},
	})
	require.NoError(t, err)
	return res.Order
}

func TestInitialRender(t *testing.T) {
	m, mgr, _, _ := setupModel(t)
	order := enqueue(t, mgr)

	m, _ = run(t, m, m.Init())
	require.NoError(t, m.err)
	assert.Equal(t, 1, m.counts[models.StatusPending])

	view := m.View()
	assert.Contains(t, view, "Order queue")
	assert.Contains(t, view, "Vendedor")
	assert.Contains(t, view, order.ID)
	assert.Contains(t, view, "Not synced yet")
	assert.Contains(t, view, "d: Drain queue")
}

func TestDrainKey(t *testing.T) {
	m, mgr, gw, _ := setupModel(t)
	enqueue(t, mgr)
	gw.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).Return(int64(501), nil)

	updated, cmd := m.Update(key("d"))
	m = updated.(Model)
	assert.Equal(t, "draining", m.busy)

	// A second operation is ignored while one is running.
	updated, ignored := m.Update(key("s"))
	m = updated.(Model)
	assert.Nil(t, ignored)

	m, refresh := run(t, m, cmd)
	assert.Empty(t, m.busy)
	assert.Contains(t, m.messages[len(m.messages)-1], "1 sent, 1 confirmed, 0 failed")

	m, _ = run(t, m, refresh)
	assert.Equal(t, 1, m.counts[models.StatusConfirmed])
	assert.Contains(t, m.View(), "No open orders.")
}

func TestRetryKeyRequeuesRejectedOrders(t *testing.T) {
	m, mgr, gw, _ := setupModel(t)
	enqueue(t, mgr)

	gw.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).
		Return(int64(0), &models.RemoteError{StatusCode: 422, Message: "limite de crédito excedido"})
	_, err := mgr.Drain(context.Background())
	require.NoError(t, err)

	gw.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).Return(int64(502), nil)
	updated, cmd := m.Update(key("r"))
	m = updated.(Model)
	m, _ = run(t, m, cmd)
	assert.Contains(t, m.messages[len(m.messages)-1], "1 requeued; 1 sent, 1 confirmed")
}

func TestSyncKeyReportsStaleTables(t *testing.T) {
	m, _, _, source := setupModel(t)
	for _, table := range models.ReferenceEntities {
		if table == models.EntityTaxRules {
			source.EXPECT().FetchReference(gomock.Any(), table, "c1").Return(nil, models.ErrNetworkUnavailable)
			continue
		}
		source.EXPECT().FetchReference(gomock.Any(), table, "c1").Return([]byte(`[]`), nil)
	}

	updated, cmd := m.Update(key("s"))
	m = updated.(Model)
	assert.Contains(t, m.View(), "Syncing")

	m, refresh := run(t, m, cmd)
	assert.Contains(t, m.messages[len(m.messages)-1], "stale tables: "+models.EntityTaxRules)

	m, _ = run(t, m, refresh)
	assert.Contains(t, m.View(), "Data may be stale")
}

func TestNavigationAndQuit(t *testing.T) {
	m, _, _, _ := setupModel(t)
	m.orders = []models.PendingOrder{{ID: "a"}, {ID: "b"}}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	assert.Equal(t, 1, m.selectedRow)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	assert.Equal(t, 1, m.selectedRow)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(Model)
	assert.Equal(t, 0, m.selectedRow)

	updated, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)
	assert.Equal(t, 120, m.width)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFormatTimeSince(t *testing.T) {
	m, _, _, _ := setupModel(t)
	now := m.now()
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-time.Minute), "1 minute ago"},
		{now.Add(-5 * time.Minute), "5 minutes ago"},
		{now.Add(-2 * time.Hour), "2 hours ago"},
		{now.Add(-24 * time.Hour), "1 day ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.formatTimeSince(tt.at))
	}
}
