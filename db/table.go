// ABOUTME: Generic table layer: records keyed by (table, scope, key) stored as JSON in badger
// ABOUTME: Provides upsert, write-then-swap bulk replace, filtered reads, deletes, and guarded updates
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harperreed/vendas/kv"
	"github.com/harperreed/vendas/models"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Table names.
const (
	TablePendingOrders    = "pendingOrders"
	TableApprovalRequests = "approvalRequests"
	TablePartners         = models.EntityPartners
	TableProducts         = models.EntityProducts
	TablePriceTables      = models.EntityPriceTables
	TableTaxRules         = models.EntityTaxRules
	TablePolicies         = models.EntityPolicies
	TableRoutes           = models.EntityRoutes
	TableTeams            = models.EntityTeams
	TableUsers            = models.EntityUsers
	TableSyncMetadata     = "syncMetadata"
)

// Record is anything stored in a table. RecordKey is unique within RecordScope.
type Record interface {
	RecordKey() string
	RecordScope() string
}

const (
	sep         = "\x1f"
	defaultGen  = "0"
	maxAttempts = 5
)

// Keys:
//
//	meta<sep><table><sep><scope>                        -> current generation
//	rec<sep><table><sep><scope><sep><gen><sep><key>     -> JSON record
func metaKey(table, scope string) []byte {
	return []byte("meta" + sep + table + sep + scope)
}

func genPrefix(table, scope, gen string) []byte {
	return []byte("rec" + sep + table + sep + scope + sep + gen + sep)
}

func recKey(table, scope, gen, key string) []byte {
	return append(genPrefix(table, scope, gen), key...)
}

func validName(parts ...string) error {
	for _, p := range parts {
		if strings.Contains(p, sep) {
			return fmt.Errorf("%w: name %q contains a reserved character", models.ErrInvalidPayload, p)
		}
	}
	return nil
}

func currentGen(txn *kv.Txn, table, scope string) (string, error) {
	v, err := txn.Get(metaKey(table, scope))
	if errors.Is(err, kv.ErrNotFound) {
		return defaultGen, nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Put upserts records into table. Existing records with the same scope and
// key are overwritten.
func Put[T Record](ctx context.Context, s *Store, table string, records ...T) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	err := s.kv.Update(func(txn *kv.Txn) error {
		gens := make(map[string]string)
		for _, r := range records {
			scope, key := r.RecordScope(), r.RecordKey()
			if key == "" {
				return fmt.Errorf("%w: empty key in %s", models.ErrInvalidPayload, table)
			}
			if err := validName(table, scope, key); err != nil {
				return err
			}

			gen, ok := gens[scope]
			if !ok {
				var err error
				if gen, err = currentGen(txn, table, scope); err != nil {
					return err
				}
				gens[scope] = gen
			}

			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode %s record: %w", table, err)
			}
			if err := txn.Set(recKey(table, scope, gen, key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", table, err)
	}
	return nil
}

// BulkReplace swaps the whole (table, scope) contents for records. The new
// rows are written under a fresh generation, then a single transaction
// points the table at it. Readers see the old rows or the new rows, never a
// mix. Every record must belong to scope.
func BulkReplace[T Record](ctx context.Context, s *Store, table, scope string, records []T) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := validName(table, scope); err != nil {
		return err
	}

	newGen := ulid.Make().String()
	seen := make(map[string]struct{}, len(records))

	err := s.kv.Batch(func(b *kv.Batch) error {
		for _, r := range records {
			if r.RecordScope() != scope {
				return fmt.Errorf("%w: %s record %q belongs to scope %q, not %q",
					models.ErrInvalidPayload, table, r.RecordKey(), r.RecordScope(), scope)
			}
			key := r.RecordKey()
			if key == "" {
				return fmt.Errorf("%w: empty key in %s", models.ErrInvalidPayload, table)
			}
			if err := validName(key); err != nil {
				return err
			}
			seen[key] = struct{}{}

			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode %s record: %w", table, err)
			}
			if err := b.Set(recKey(table, scope, newGen, key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.dropGeneration(table, scope, newGen)
		return fmt.Errorf("failed to stage %s: %w", table, err)
	}

	var oldGen string
	err = s.kv.Update(func(txn *kv.Txn) error {
		var err error
		if oldGen, err = currentGen(txn, table, scope); err != nil {
			return err
		}
		return txn.Set(metaKey(table, scope), []byte(newGen))
	})
	if err != nil {
		s.dropGeneration(table, scope, newGen)
		return fmt.Errorf("failed to swap %s: %w", table, err)
	}

	s.dropGeneration(table, scope, oldGen)
	s.logger.Debug("table replaced",
		zap.String("table", table), zap.String("scope", scope), zap.Int("records", len(seen)))
	return nil
}

// dropGeneration deletes the rows of an unreferenced generation. Failures
// leave garbage behind but never affect what readers see.
func (s *Store) dropGeneration(table, scope, gen string) {
	prefix := genPrefix(table, scope, gen)
	keys, err := s.kv.KeysWithPrefix(prefix)
	if err != nil {
		s.logger.Warn("failed to list stale generation", zap.String("table", table), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	err = s.kv.Batch(func(b *kv.Batch) error {
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to drop stale generation", zap.String("table", table), zap.Error(err))
	}
}

// Query returns the records of (table, scope) accepted by pred, in key
// order. A nil pred accepts everything.
func Query[T any](ctx context.Context, s *Store, table, scope string, pred func(T) bool) ([]T, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var out []T
	err := s.kv.View(func(txn *kv.Txn) error {
		gen, err := currentGen(txn, table, scope)
		if err != nil {
			return err
		}
		return txn.Scan(genPrefix(table, scope, gen), func(key, value []byte) error {
			var rec T
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("failed to decode %s record %q: %w", table, key, err)
			}
			if pred == nil || pred(rec) {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return out, nil
}

// Get returns one record, or models.ErrNotFound.
func Get[T any](ctx context.Context, s *Store, table, scope, key string) (T, error) {
	var rec T
	if err := checkCtx(ctx); err != nil {
		return rec, err
	}

	err := s.kv.View(func(txn *kv.Txn) error {
		return getIn(txn, table, scope, key, &rec)
	})
	return rec, err
}

func getIn(txn *kv.Txn, table, scope, key string, dst interface{}) error {
	gen, err := currentGen(txn, table, scope)
	if err != nil {
		return err
	}
	data, err := txn.Get(recKey(table, scope, gen, key))
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", table, key, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s %q: %w", table, key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s %q: %w", table, key, err)
	}
	return nil
}

// Delete removes one record. Missing records are not an error.
func Delete(ctx context.Context, s *Store, table, scope, key string) error {
	return DeleteMany(ctx, s, table, scope, []string{key})
}

// DeleteMany removes several records of one scope in a single transaction.
func DeleteMany(ctx context.Context, s *Store, table, scope string, keys []string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	err := s.kv.Update(func(txn *kv.Txn) error {
		gen, err := currentGen(txn, table, scope)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(recKey(table, scope, gen, key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// Update reads one record, applies fn, and writes the result in a single
// transaction. If fn returns an error nothing is written. Write conflicts
// are retried, re-running fn against the fresh record, so guards inside fn
// behave as compare-and-set.
func Update[T Record](ctx context.Context, s *Store, table, scope, key string, fn func(*T) error) (T, error) {
	var rec T
	if err := checkCtx(ctx); err != nil {
		return rec, err
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.kv.Update(func(txn *kv.Txn) error {
			var cur T
			if err := getIn(txn, table, scope, key, &cur); err != nil {
				return err
			}
			if err := fn(&cur); err != nil {
				return err
			}
			if cur.RecordKey() != key || cur.RecordScope() != scope {
				return fmt.Errorf("%w: update may not change a record's key", models.ErrInvalidPayload)
			}
			data, err := json.Marshal(cur)
			if err != nil {
				return fmt.Errorf("failed to encode %s record: %w", table, err)
			}
			gen, err := currentGen(txn, table, scope)
			if err != nil {
				return err
			}
			if err := txn.Set(recKey(table, scope, gen, key), data); err != nil {
				return err
			}
			rec = cur
			return nil
		})
		if !errors.Is(err, kv.ErrConflict) {
			break
		}
	}
	return rec, err
}

// Count returns the number of records in (table, scope) accepted by pred.
func Count[T any](ctx context.Context, s *Store, table, scope string, pred func(T) bool) (int, error) {
	recs, err := Query(ctx, s, table, scope, pred)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Upsert is Update for records that may not exist yet: a missing record
// starts from init() before fn runs.
func Upsert[T Record](ctx context.Context, s *Store, table, scope, key string, init func() T, fn func(*T) error) (T, error) {
	var out T
	if err := checkCtx(ctx); err != nil {
		return out, err
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.kv.Update(func(txn *kv.Txn) error {
			cur := init()
			var existing T
			switch gerr := getIn(txn, table, scope, key, &existing); {
			case gerr == nil:
				cur = existing
			case !errors.Is(gerr, models.ErrNotFound):
				return gerr
			}
			if err := fn(&cur); err != nil {
				return err
			}
			data, err := json.Marshal(cur)
			if err != nil {
				return fmt.Errorf("failed to encode %s record: %w", table, err)
			}
			gen, err := currentGen(txn, table, scope)
			if err != nil {
				return err
			}
			if err := txn.Set(recKey(table, scope, gen, key), data); err != nil {
				return err
			}
			out = cur
			return nil
		})
		if !errors.Is(err, kv.ErrConflict) {
			break
		}
	}
	return out, err
}

// putIn writes one record into the live generation of its table inside txn.
func putIn(txn *kv.Txn, table string, r Record) error {
	scope, key := r.RecordScope(), r.RecordKey()
	if key == "" {
		return fmt.Errorf("%w: empty key in %s", models.ErrInvalidPayload, table)
	}
	if err := validName(table, scope, key); err != nil {
		return err
	}
	gen, err := currentGen(txn, table, scope)
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", table, err)
	}
	return txn.Set(recKey(table, scope, gen, key), data)
}

func exists(txn *kv.Txn, table, scope, key string) (bool, error) {
	gen, err := currentGen(txn, table, scope)
	if err != nil {
		return false, err
	}
	_, err = txn.Get(recKey(table, scope, gen, key))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
