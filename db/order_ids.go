// ABOUTME: Issues pending order ids that sort in creation order
// ABOUTME: The last issued ULID is persisted so a clock stepping back cannot reorder the queue
package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harperreed/vendas/kv"
	"github.com/oklog/ulid/v2"
)

func lastOrderIDKey() []byte {
	return []byte("seq" + sep + TablePendingOrders)
}

// NextOrderID returns a new pending order id greater than every id issued
// before by this store. The timestamp part is now, or the last issued
// timestamp when the clock is behind it.
func (s *Store) NextOrderID(ctx context.Context, now time.Time) (string, error) {
	if err := checkCtx(ctx); err != nil {
		return "", err
	}

	var id ulid.ULID
	err := s.kv.Update(func(txn *kv.Txn) error {
		var last ulid.ULID
		raw, err := txn.Get(lastOrderIDKey())
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return err
		default:
			if last, err = ulid.Parse(string(raw)); err != nil {
				return fmt.Errorf("failed to decode last order id: %w", err)
			}
		}

		if id, err = nextULID(last, now, ulid.DefaultEntropy()); err != nil {
			return err
		}
		return txn.Set(lastOrderIDKey(), []byte(id.String()))
	})
	if err != nil {
		return "", fmt.Errorf("failed to issue order id: %w", err)
	}
	return id.String(), nil
}

// nextULID returns an id after last. Within the same millisecond, or when
// now is earlier than last, the entropy of last is incremented.
func nextULID(last ulid.ULID, now time.Time, entropy io.Reader) (ulid.ULID, error) {
	ms := ulid.Timestamp(now)
	if ms > last.Time() {
		return ulid.New(ms, entropy)
	}

	next := last
	for i := len(next) - 1; i >= 6; i-- {
		next[i]++
		if next[i] != 0 {
			return next, nil
		}
	}
	// Entropy exhausted for this millisecond.
	return ulid.New(last.Time()+1, entropy)
}
