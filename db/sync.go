// ABOUTME: Sync metadata for reference-data refreshes, one record per company
// ABOUTME: Tracks last successful sync, per-table counts, and the last failure
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/vendas/models"
)

// GetSyncMetadata returns the sync metadata for a company, or nil if the
// company has never been synced.
func (s *Store) GetSyncMetadata(ctx context.Context, companyID string) (*models.SyncMetadata, error) {
	m, err := Get[models.SyncMetadata](ctx, s, TableSyncMetadata, "", companyID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}
	return &m, nil
}

// RecordSyncSuccess stores the result of a pass in which every table
// committed. LastSyncAt never moves backwards.
func (s *Store) RecordSyncSuccess(ctx context.Context, companyID string, at time.Time, counts map[string]int) (models.SyncMetadata, error) {
	at = at.UTC()
	m, err := Upsert(ctx, s, TableSyncMetadata, "", companyID,
		func() models.SyncMetadata { return models.SyncMetadata{CompanyID: companyID} },
		func(m *models.SyncMetadata) error {
			if m.LastSyncAt == nil || at.After(*m.LastSyncAt) {
				m.LastSyncAt = &at
			}
			m.LastAttemptAt = &at
			m.LastError = ""
			m.Counts = counts
			return nil
		})
	if err != nil {
		return m, fmt.Errorf("failed to record sync success: %w", err)
	}
	return m, nil
}

// RecordSyncFailure stores a failed or partial pass without touching the
// last successful sync.
func (s *Store) RecordSyncFailure(ctx context.Context, companyID string, at time.Time, message string) (models.SyncMetadata, error) {
	at = at.UTC()
	m, err := Upsert(ctx, s, TableSyncMetadata, "", companyID,
		func() models.SyncMetadata { return models.SyncMetadata{CompanyID: companyID} },
		func(m *models.SyncMetadata) error {
			m.LastAttemptAt = &at
			m.LastError = message
			return nil
		})
	if err != nil {
		return m, fmt.Errorf("failed to record sync failure: %w", err)
	}
	return m, nil
}
