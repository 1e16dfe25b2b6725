// ABOUTME: Tests for the pending order queue table and approval requests
// ABOUTME: Covers FIFO listing, guarded transitions, reconciliation, purge, and responses
package db

import (
	"context"
	"testing"
	"time"

	"github.com/harperreed/vendas/models"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(status models.OrderStatus) models.PendingOrder {
	return models.PendingOrder{
		ID:        ulid.Make().String(),
		Origin:    models.OriginOfflineSale,
		CompanyID: "c1",
		Payload: models.OrderPayload{
			PartnerCode: "PARC1",
			Lines: []models.OrderLine{{
				ProductCode: "P1",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   decimal.NewFromInt(10),
			}},
		},
		Status:      status,
		CreatedAt:   time.Now().UTC(),
		CreatedByID: "u1",
	}
}

func TestInsertPendingOrderRejectsDuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := newOrder(models.StatusPending)
	require.NoError(t, s.InsertPendingOrder(ctx, o))

	o.Status = models.StatusFailed
	assert.Error(t, s.InsertPendingOrder(ctx, o))

	got, err := s.GetPendingOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestListPendingOrdersFIFO(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		o := newOrder(models.StatusPending)
		ids = append(ids, o.ID)
		require.NoError(t, s.InsertPendingOrder(ctx, o))
	}

	got, err := s.ListPendingOrders(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, o := range got {
		assert.Equal(t, ids[i], o.ID)
	}
}

func TestTransitionPendingOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := newOrder(models.StatusPending)
	require.NoError(t, s.InsertPendingOrder(ctx, o))

	got, err := s.TransitionPendingOrder(ctx, o.ID, models.StatusPending, models.StatusInFlight, func(p *models.PendingOrder) {
		p.Attempts++
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInFlight, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// Stale from-status is refused and nothing changes.
	_, err = s.TransitionPendingOrder(ctx, o.ID, models.StatusPending, models.StatusInFlight, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.TransitionPendingOrder(ctx, o.ID, models.StatusInFlight, models.StatusConfirmed, func(p *models.PendingOrder) {
		p.ServerID = 77
	})
	require.NoError(t, err)

	// Confirmed orders are immutable.
	_, err = s.TransitionPendingOrder(ctx, o.ID, models.StatusConfirmed, models.StatusPending, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	final, err := s.GetPendingOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(77), final.ServerID)
	assert.Equal(t, 1, final.Attempts)
}

func TestTransitionMissingOrder(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.TransitionPendingOrder(context.Background(), "missing", models.StatusPending, models.StatusInFlight, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentClaimOnlyOneWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := newOrder(models.StatusPending)
	require.NoError(t, s.InsertPendingOrder(ctx, o))

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := s.TransitionPendingOrder(ctx, o.ID, models.StatusPending, models.StatusInFlight, nil)
			results <- err
		}()
	}

	wins := 0
	for i := 0; i < 8; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestResetInFlight(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stuck := newOrder(models.StatusInFlight)
	pending := newOrder(models.StatusPending)
	require.NoError(t, s.InsertPendingOrder(ctx, stuck))
	require.NoError(t, s.InsertPendingOrder(ctx, pending))

	reset, err := s.ResetInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID}, reset)

	counts, err := s.CountPendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 0, counts[models.StatusInFlight])
	assert.Contains(t, counts, models.StatusConfirmed)
}

func TestDeleteConfirmedOrderAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	old := newOrder(models.StatusConfirmed)
	oldAt := time.Now().UTC().AddDate(0, 0, -40)
	old.ConfirmedAt = &oldAt

	recent := newOrder(models.StatusConfirmed)
	recentAt := time.Now().UTC()
	recent.ConfirmedAt = &recentAt

	pending := newOrder(models.StatusPending)

	for _, o := range []models.PendingOrder{old, recent, pending} {
		require.NoError(t, s.InsertPendingOrder(ctx, o))
	}

	err := s.DeleteConfirmedOrder(ctx, pending.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	n, err := s.PurgeConfirmed(ctx, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteConfirmedOrder(ctx, recent.ID))

	left, err := s.ListPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, pending.ID, left[0].ID)
}

func TestApprovalRespondOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := models.ApprovalRequest{
		ID:         "ap1",
		OrderID:    "o1",
		CompanyID:  "c1",
		Violations: []models.Violation{{Kind: models.RuleMaxDiscount, Message: "desconto acima do limite"}},
		ApproverID: "mgr",
		Status:     models.ApprovalPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.InsertApproval(ctx, a))

	unregistered, err := s.ListUnregisteredApprovals(ctx)
	require.NoError(t, err)
	assert.Len(t, unregistered, 1)
	require.NoError(t, s.MarkApprovalRegistered(ctx, "ap1"))
	unregistered, err = s.ListUnregisteredApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, unregistered)

	_, err = s.RespondApproval(ctx, "ap1", models.ApprovalPending, "mgr", "", time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	got, err := s.RespondApproval(ctx, "ap1", models.ApprovalApproved, "mgr", "cliente estratégico", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)
	assert.NotNil(t, got.RespondedAt)

	_, err = s.RespondApproval(ctx, "ap1", models.ApprovalRejected, "mgr", "", time.Now())
	assert.ErrorIs(t, err, models.ErrAlreadyResponded)

	stored, err := s.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, stored.Status)
}

func TestApplyApprovalState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertApproval(ctx, models.ApprovalRequest{ID: "ap1", OrderID: "o1", Status: models.ApprovalPending}))

	changed, err := s.ApplyApprovalState(ctx, models.ApprovalState{ID: "ap1", Status: models.ApprovalPending})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.ApplyApprovalState(ctx, models.ApprovalState{ID: "ap1", Status: models.ApprovalRejected, ResponderID: "mgr", Justification: "margem"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ApplyApprovalState(ctx, models.ApprovalState{ID: "ap1", Status: models.ApprovalApproved})
	require.NoError(t, err)
	assert.False(t, changed, "terminal state is never overwritten")

	got, err := s.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, got.Status)
	assert.Equal(t, "margem", got.ResponseJustification)
	assert.True(t, got.Registered)

	pending, err := s.ListApprovals(ctx, models.ApprovalPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
