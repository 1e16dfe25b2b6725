// ABOUTME: Tests for full sync, partial failure handling, and reconnect ordering
// ABOUTME: Uses an in-memory store with mocked reference source and queue
package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	"github.com/harperreed/vendas/sync/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var syncTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fixtures holds one valid record per reference table.
var fixtures = map[string]string{
	models.EntityPartners:    `[{"code":"PARC1","company_id":"c1","name":"Mercado Sol","credit_limit":"5000","ativo":true}]`,
	models.EntityProducts:    `[{"code":"P1","company_id":"c1","name":"Agua","group":"BEB","ativo":true},{"code":"P2","company_id":"c1","name":"Suco","group":"BEB","ativo":true}]`,
	models.EntityPriceTables: `[{"code":"T1","company_id":"c1","name":"Padrao","items":[{"product_code":"P1","price":"10"}],"ativo":true}]`,
	models.EntityTaxRules:    `[{"code":"ICMS-SP","company_id":"c1","state":"SP","rate":"18","ativo":true}]`,
	models.EntityPolicies:    `[{"code":"DESC15","company_id":"c1","kind":"MAX_DISCOUNT","threshold":"15","ativo":true}]`,
	models.EntityRoutes:      `[{"code":"R1","company_id":"c1","name":"Centro","ativo":true}]`,
	models.EntityTeams:       `[{"code":"EQ1","company_id":"c1","name":"Norte","ativo":true}]`,
	models.EntityUsers:       `[{"id":"u-mgr","company_id":"c1","name":"Gerente","role":"MANAGER","can_approve":true,"ativo":true}]`,
}

type harness struct {
	orch   *Orchestrator
	store  *db.Store
	source *mocks.MockReferenceSource
	queue  *mocks.MockQueueRunner
}

func setupOrchestrator(t *testing.T) harness {
	t.Helper()
	store, err := db.OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl := gomock.NewController(t)
	h := harness{
		store:  store,
		source: mocks.NewMockReferenceSource(ctrl),
		queue:  mocks.NewMockQueueRunner(ctrl),
	}
	h.orch = New(store, h.source, h.queue, Options{
		CompanyID: "c1",
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return syncTime },
	})
	return h
}

// expectAll makes every table succeed with its fixture, except the overrides.
func (h harness) expectAll(overrides map[string]func() ([]byte, error)) {
	for _, table := range models.ReferenceEntities {
		table := table
		call := h.source.EXPECT().FetchReference(gomock.Any(), table, "c1")
		if fn, ok := overrides[table]; ok {
			call.DoAndReturn(func(context.Context, string, string) ([]byte, error) { return fn() })
			continue
		}
		call.Return([]byte(fixtures[table]), nil)
	}
}

func TestFullSyncReplacesEveryTable(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	h.expectAll(nil)

	var events []Progress
	report, err := h.orch.FullSync(ctx, "c1", func(p Progress) { events = append(events, p) })
	require.NoError(t, err)

	assert.Empty(t, report.Failed)
	require.NotNil(t, report.CompletedAt)
	assert.Len(t, report.Tables, len(models.ReferenceEntities))
	assert.Len(t, events, 2*len(models.ReferenceEntities))
	assert.Equal(t, PhaseFetching, events[0].Phase)
	assert.Equal(t, PhaseDone, events[len(events)-1].Phase)

	counts, err := h.store.ReferenceCounts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.EntityProducts])
	assert.Equal(t, 1, counts[models.EntityUsers])

	meta, err := h.store.GetSyncMetadata(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.LastSyncAt)
	assert.True(t, meta.LastSyncAt.Equal(syncTime))
	assert.Empty(t, meta.LastError)

	status, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.SyncedThisSession)
	assert.False(t, status.Running)
}

func TestFullSyncPartialFailureKeepsCommittedTables(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	// Earlier state: one product and one price table.
	require.NoError(t, db.BulkReplace(ctx, h.store, models.EntityProducts, "c1", []models.Product{
		{Code: "OLD", CompanyID: "c1", Name: "Antigo", Active: true},
	}))
	require.NoError(t, db.BulkReplace(ctx, h.store, models.EntityPriceTables, "c1", []models.PriceTable{
		{Code: "T0", CompanyID: "c1", Name: "Velha", Active: true},
	}))

	h.expectAll(map[string]func() ([]byte, error){
		models.EntityPriceTables: func() ([]byte, error) {
			return nil, fmt.Errorf("%w: connection reset", models.ErrNetworkUnavailable)
		},
	})

	report, err := h.orch.FullSync(ctx, "c1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStaleReferenceData)
	assert.Contains(t, err.Error(), models.EntityPriceTables)
	assert.Equal(t, []string{models.EntityPriceTables}, report.Failed)
	assert.Nil(t, report.CompletedAt)

	products, err := h.store.ListProducts(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "P1", products[0].Code)
	assert.Equal(t, "P2", products[1].Code)

	table, err := h.store.GetPriceTable(ctx, "c1", "T0")
	require.NoError(t, err)
	assert.Equal(t, "Velha", table.Name)

	meta, err := h.store.GetSyncMetadata(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Nil(t, meta.LastSyncAt)
	assert.Contains(t, meta.LastError, models.EntityPriceTables)

	status, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.SyncedThisSession)
}

func TestFullSyncInvalidDataLeavesTableUntouched(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, db.BulkReplace(ctx, h.store, models.EntityUsers, "c1", []models.User{
		{ID: "u-old", CompanyID: "c1", Name: "Antigo", CanApprove: true, Active: true},
	}))

	h.expectAll(map[string]func() ([]byte, error){
		models.EntityUsers: func() ([]byte, error) {
			return []byte(`[{"name":"sem id"}]`), nil
		},
	})

	_, err := h.orch.FullSync(ctx, "c1", nil)
	assert.ErrorIs(t, err, models.ErrStaleReferenceData)

	approvers, err := h.store.Approvers(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	assert.Equal(t, "u-old", approvers[0].ID)
}

func TestFullSyncRejectsConcurrentRun(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.expectAll(map[string]func() ([]byte, error){
		models.EntityPartners: func() ([]byte, error) {
			close(started)
			<-release
			return []byte(fixtures[models.EntityPartners]), nil
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.FullSync(ctx, "c1", nil)
		done <- err
	}()

	<-started
	_, err := h.orch.FullSync(ctx, "c1", nil)
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	status, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)

	close(release)
	require.NoError(t, <-done)
}

func TestFullSyncRequiresCompany(t *testing.T) {
	h := setupOrchestrator(t)
	_, err := h.orch.FullSync(context.Background(), "", nil)
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestOnReconnectDrainsBeforeSyncingOnce(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	drained := queue.DrainReport{Requeued: 1, Attempted: 1, Confirmed: 1}
	first := h.queue.EXPECT().RetryFailed(gomock.Any(), queue.RetryRetryableOnly).Return(drained, nil)
	h.source.EXPECT().FetchReference(gomock.Any(), models.EntityPartners, "c1").
		After(first).
		Return([]byte(fixtures[models.EntityPartners]), nil)
	for _, table := range models.ReferenceEntities[1:] {
		h.source.EXPECT().FetchReference(gomock.Any(), table, "c1").Return([]byte(fixtures[table]), nil)
	}

	out, err := h.orch.OnReconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Drain.Confirmed)
	require.NotNil(t, out.Sync)
	assert.Empty(t, out.Sync.Failed)

	// Already synced this session: only the queue is drained.
	h.queue.EXPECT().RetryFailed(gomock.Any(), queue.RetryRetryableOnly).Return(queue.DrainReport{}, nil)
	out, err = h.orch.OnReconnect(ctx)
	require.NoError(t, err)
	assert.Nil(t, out.Sync)
}

func TestOnReconnectSyncsEvenWhenDrainFails(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	h.queue.EXPECT().RetryFailed(gomock.Any(), queue.RetryRetryableOnly).
		Return(queue.DrainReport{}, models.ErrStorageUnavailable)
	h.expectAll(nil)

	out, err := h.orch.OnReconnect(ctx)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	require.NotNil(t, out.Sync)
	assert.NotNil(t, out.Sync.CompletedAt)
}

func TestOnForegroundTriggerUsesConfiguredCompany(t *testing.T) {
	h := setupOrchestrator(t)
	h.expectAll(nil)

	report, err := h.orch.OnForegroundTrigger(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "c1", report.CompanyID)
}
