// ABOUTME: Reference data sync CLI commands
// ABOUTME: Runs a full sync with per-table progress and prints the sync status
package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/sync"
)

// SyncNowCommand pulls every reference table for the session company.
func SyncNowCommand(ctx context.Context, a *App, args []string) error {
	a.printf("Syncing reference data for %s...\n", a.Config.Session.CompanyID)

	report, err := a.Sync.OnForegroundTrigger(ctx, func(p sync.Progress) {
		switch p.Phase {
		case sync.PhaseDone:
			a.printf("  [%d/%d] ✓ %s (%d records)\n", p.Index, p.Total, p.Table, p.Records)
		case sync.PhaseFailed:
			a.printf("  [%d/%d] ✗ %s: %s\n", p.Index, p.Total, p.Table, p.Error)
		}
	})
	if errors.Is(err, models.ErrStaleReferenceData) {
		a.printf("\n⚠ Some tables were not refreshed and may be stale: %v\n", report.Failed)
		return err
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	a.printf("\n✓ Sync complete\n")
	return nil
}

// SyncStatusCommand prints when reference data was last refreshed.
func SyncStatusCommand(ctx context.Context, a *App, args []string) error {
	st, err := a.Sync.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}

	a.printf("Company: %s\n", st.CompanyID)
	if a.Store.Degraded() {
		a.printf("Storage: in memory (offline mode disabled)\n")
	}
	md := st.Metadata
	if md == nil {
		a.printf("Never synced\n")
		return nil
	}

	if md.LastSyncAt != nil {
		a.printf("Last sync: %s\n", md.LastSyncAt.Local().Format(time.RFC3339))
	} else {
		a.printf("Last sync: never completed\n")
	}
	if md.LastAttemptAt != nil {
		a.printf("Last attempt: %s\n", md.LastAttemptAt.Local().Format(time.RFC3339))
	}
	if md.LastError != "" {
		a.printf("⚠ Last error: %s\n", md.LastError)
	}

	if len(md.Counts) > 0 {
		tables := make([]string, 0, len(md.Counts))
		for t := range md.Counts {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		a.printf("\nRecords:\n")
		for _, t := range tables {
			a.printf("  %-12s %d\n", t, md.Counts[t])
		}
	}
	return nil
}
