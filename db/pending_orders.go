// ABOUTME: Durable queue of sales orders waiting for server confirmation
// ABOUTME: Status transitions are compare-and-set inside one store transaction
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/vendas/kv"
	"github.com/harperreed/vendas/models"
)

// InsertPendingOrder stores a new pending order. Inserting an id that
// already exists fails, so a replayed enqueue can never reset a record.
func (s *Store) InsertPendingOrder(ctx context.Context, o models.PendingOrder) error {
	return s.EnqueueOrder(ctx, o, nil)
}

// EnqueueOrder stores a new pending order and, when given, the approval
// request gating it, in one transaction.
func (s *Store) EnqueueOrder(ctx context.Context, o models.PendingOrder, approval *models.ApprovalRequest) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if o.ID == "" {
		return fmt.Errorf("%w: pending order id is required", models.ErrInvalidPayload)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidPayload, o.Status)
	}
	if approval != nil && approval.ID == "" {
		return fmt.Errorf("%w: approval id is required", models.ErrInvalidPayload)
	}

	err := s.kv.Update(func(txn *kv.Txn) error {
		found, err := exists(txn, TablePendingOrders, "", o.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("pending order %s already exists", o.ID)
		}
		if approval != nil {
			if err := putIn(txn, TableApprovalRequests, *approval); err != nil {
				return err
			}
		}
		return putIn(txn, TablePendingOrders, o)
	})
	if err != nil {
		return fmt.Errorf("failed to insert pending order: %w", err)
	}
	return nil
}

// GetPendingOrder returns one pending order or models.ErrNotFound.
func (s *Store) GetPendingOrder(ctx context.Context, id string) (models.PendingOrder, error) {
	return Get[models.PendingOrder](ctx, s, TablePendingOrders, "", id)
}

// ListPendingOrders returns orders in creation order, optionally filtered by status.
func (s *Store) ListPendingOrders(ctx context.Context, statuses ...models.OrderStatus) ([]models.PendingOrder, error) {
	want := make(map[models.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return Query(ctx, s, TablePendingOrders, "", func(o models.PendingOrder) bool {
		return len(want) == 0 || want[o.Status]
	})
}

// TransitionPendingOrder moves an order from one status to another. The
// current status is checked inside the same transaction that writes the new
// one; a mismatch returns models.ErrInvalidTransition and writes nothing.
// mutate, if set, may adjust other fields of the record before it is saved.
func (s *Store) TransitionPendingOrder(ctx context.Context, id string, from, to models.OrderStatus, mutate func(*models.PendingOrder)) (models.PendingOrder, error) {
	if !allowedTransition(from, to) {
		return models.PendingOrder{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}

	return Update(ctx, s, TablePendingOrders, "", id, func(o *models.PendingOrder) error {
		if o.Status != from {
			return fmt.Errorf("%w: order %s is %s, expected %s", models.ErrInvalidTransition, id, o.Status, from)
		}
		o.Status = to
		if mutate != nil {
			mutate(o)
		}
		return nil
	})
}

func allowedTransition(from, to models.OrderStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusInFlight || to == models.StatusFailed
	case models.StatusInFlight:
		return to == models.StatusConfirmed || to == models.StatusFailed || to == models.StatusPending
	case models.StatusFailed:
		return to == models.StatusPending
	}
	return false
}

// ResetInFlight returns every IN_FLIGHT order to PENDING. It runs before the
// first drain of a process: an order left IN_FLIGHT means the previous
// process stopped mid-submission and the outcome is unknown.
func (s *Store) ResetInFlight(ctx context.Context) ([]string, error) {
	stuck, err := s.ListPendingOrders(ctx, models.StatusInFlight)
	if err != nil {
		return nil, err
	}

	var reset []string
	for _, o := range stuck {
		_, err := s.TransitionPendingOrder(ctx, o.ID, models.StatusInFlight, models.StatusPending, nil)
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return reset, fmt.Errorf("failed to reset order %s: %w", o.ID, err)
		}
		reset = append(reset, o.ID)
	}
	return reset, nil
}

// CountPendingOrders returns the number of orders per status. Every status is present.
func (s *Store) CountPendingOrders(ctx context.Context) (map[models.OrderStatus]int, error) {
	orders, err := s.ListPendingOrders(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.OrderStatus]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[st] = 0
	}
	for _, o := range orders {
		counts[o.Status]++
	}
	return counts, nil
}

// DeleteConfirmedOrder removes a CONFIRMED order once the user acknowledged it.
func (s *Store) DeleteConfirmedOrder(ctx context.Context, id string) error {
	o, err := s.GetPendingOrder(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != models.StatusConfirmed {
		return fmt.Errorf("%w: order %s is %s, only confirmed orders can be removed", models.ErrInvalidTransition, id, o.Status)
	}
	return Delete(ctx, s, TablePendingOrders, "", id)
}

// PurgeConfirmed removes CONFIRMED orders confirmed before cutoff.
func (s *Store) PurgeConfirmed(ctx context.Context, cutoff time.Time) (int, error) {
	old, err := Query(ctx, s, TablePendingOrders, "", func(o models.PendingOrder) bool {
		return o.Status == models.StatusConfirmed && o.ConfirmedAt != nil && o.ConfirmedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	if len(old) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(old))
	for _, o := range old {
		ids = append(ids, o.ID)
	}
	if err := DeleteMany(ctx, s, TablePendingOrders, "", ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
