// ABOUTME: Local Store opening and lifecycle on top of the badger kv engine
// ABOUTME: Falls back to an in-memory engine when the on-disk store cannot be opened
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/vendas/kv"
	"github.com/harperreed/vendas/models"
	"go.uber.org/zap"
)

// Store is the on-device database: cached reference tables, the pending
// order queue, approval requests, and sync metadata.
type Store struct {
	kv       *kv.Client
	logger   *zap.Logger
	degraded error

	// Now is the clock used for timestamps written by the store.
	Now func() time.Time
}

// Open opens the store at path. If the on-disk engine cannot be opened the
// store runs in memory for this session: Degraded reports true and
// DegradedErr explains why. An error is returned only when no engine at all
// could be opened.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	client, err := kv.Open(kv.Options{Dir: path, SyncWrites: true})
	if err == nil {
		return newStore(client, logger, nil), nil
	}

	degraded := fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	logger.Warn("on-disk store unavailable, offline mode disabled for this session",
		zap.String("path", path), zap.Error(err))

	client, memErr := kv.OpenInMemory()
	if memErr != nil {
		return nil, fmt.Errorf("%w: failed to open in-memory fallback: %v", models.ErrStorageUnavailable, memErr)
	}
	return newStore(client, logger, degraded), nil
}

// OpenInMemory opens a store that keeps everything in RAM. Used by tests and tooling.
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := kv.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return newStore(client, logger.Named("store"), nil), nil
}

func newStore(client *kv.Client, logger *zap.Logger, degraded error) *Store {
	return &Store{
		kv:       client,
		logger:   logger,
		degraded: degraded,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Degraded reports whether the store fell back to memory-only storage.
func (s *Store) Degraded() bool {
	return s.degraded != nil
}

// DegradedErr returns the ErrStorageUnavailable error that caused the
// fallback, or nil.
func (s *Store) DegradedErr() error {
	return s.degraded
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation cancelled: %w", err)
	}
	return nil
}
