// ABOUTME: Sync Orchestrator: reference-data refresh and queue draining around connectivity changes
// ABOUTME: Each reference table is replaced wholesale; a failed table never rolls back the others
package sync

//go:generate mockgen -source=orchestrator.go -destination=mocks/mock_orchestrator.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/metrics"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	"go.uber.org/zap"
)

// DefaultFetchTimeout bounds the download of one reference table.
const DefaultFetchTimeout = 60 * time.Second

// ReferenceSource fetches one reference dataset as a raw JSON array.
type ReferenceSource interface {
	FetchReference(ctx context.Context, entity, companyID string) ([]byte, error)
}

// QueueRunner is the part of the queue manager the orchestrator drives.
type QueueRunner interface {
	RetryFailed(ctx context.Context, scope queue.RetryScope) (queue.DrainReport, error)
}

// Options configures an Orchestrator.
type Options struct {
	// CompanyID is the company synced on reconnect.
	CompanyID    string
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator coordinates full syncs and reconnect handling. Create one per
// process; its guards are per instance.
type Orchestrator struct {
	store   *db.Store
	source  ReferenceSource
	queue   QueueRunner
	logger  *zap.Logger
	metrics *metrics.Metrics

	companyID    string
	fetchTimeout time.Duration
	now          func() time.Time

	running atomic.Bool
	// synced is set once a full sync completed in this session.
	synced atomic.Bool
}

// New creates an orchestrator.
func New(store *db.Store, source ReferenceSource, q QueueRunner, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		source:       source,
		queue:        q,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		companyID:    opts.CompanyID,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("sync")
	if o.fetchTimeout <= 0 {
		o.fetchTimeout = DefaultFetchTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Phase is the step a progress event reports.
type Phase string

const (
	PhaseFetching Phase = "fetching"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Progress is reported once per phase per table during a full sync.
type Progress struct {
	Table   string `json:"table"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Phase   Phase  `json:"phase"`
	Records int    `json:"records,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TableResult is the outcome of one table in a full sync.
type TableResult struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// Report summarises a full sync.
type Report struct {
	CompanyID   string        `json:"company_id"`
	Tables      []TableResult `json:"tables"`
	Failed      []string      `json:"failed,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// FullSync refreshes every reference table of a company. Tables that
// succeed stay committed even when others fail; in that case the returned
// error matches models.ErrStaleReferenceData and names the failed tables,
// and the last successful sync time is left unchanged. A call made while
// another full sync runs returns models.ErrSyncInProgress.
func (o *Orchestrator) FullSync(ctx context.Context, companyID string, progress func(Progress)) (Report, error) {
	if companyID == "" {
		return Report{}, fmt.Errorf("%w: company is required", models.ErrInvalidPayload)
	}
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, models.ErrSyncInProgress
	}
	defer o.running.Store(false)

	if progress == nil {
		progress = func(Progress) {}
	}

	start := time.Now()
	report := Report{CompanyID: companyID}
	counts := make(map[string]int, len(models.ReferenceEntities))
	total := len(models.ReferenceEntities)

	for i, table := range models.ReferenceEntities {
		progress(Progress{Table: table, Index: i + 1, Total: total, Phase: PhaseFetching})

		n, err := o.syncTable(ctx, table, companyID)
		if err != nil {
			o.logger.Warn("reference table not refreshed", zap.String("table", table), zap.Error(err))
			o.metrics.ObserveSyncTable(table, false)
			report.Tables = append(report.Tables, TableResult{Table: table, Error: err.Error()})
			report.Failed = append(report.Failed, table)
			progress(Progress{Table: table, Index: i + 1, Total: total, Phase: PhaseFailed, Error: err.Error()})
			continue
		}

		o.metrics.ObserveSyncTable(table, true)
		counts[table] = n
		report.Tables = append(report.Tables, TableResult{Table: table, Records: n})
		progress(Progress{Table: table, Index: i + 1, Total: total, Phase: PhaseDone, Records: n})
	}

	at := o.now().UTC()
	if len(report.Failed) > 0 {
		msg := "failed tables: " + strings.Join(report.Failed, ", ")
		if _, err := o.store.RecordSyncFailure(ctx, companyID, at, msg); err != nil {
			o.logger.Warn("failed to record sync failure", zap.Error(err))
		}
		o.metrics.ObserveSync(time.Since(start), nil)
		return report, fmt.Errorf("%w: %s", models.ErrStaleReferenceData, msg)
	}

	if _, err := o.store.RecordSyncSuccess(ctx, companyID, at, counts); err != nil {
		o.metrics.ObserveSync(time.Since(start), nil)
		return report, fmt.Errorf("failed to record sync: %w", err)
	}
	report.CompletedAt = &at
	o.synced.Store(true)
	o.metrics.ObserveSync(time.Since(start), &at)
	o.logger.Info("reference data synced", zap.String("company_id", companyID), zap.Duration("took", time.Since(start)))
	return report, nil
}

func (o *Orchestrator) syncTable(ctx context.Context, table, companyID string) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	raw, err := o.source.FetchReference(fetchCtx, table, companyID)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	return applyReference(ctx, o.store, table, companyID, raw)
}

// applyReference decodes and validates raw into the typed records of table
// and swaps them into the store.
func applyReference(ctx context.Context, store *db.Store, table, companyID string, raw []byte) (int, error) {
	switch table {
	case models.EntityPartners:
		return replace[models.Partner](ctx, store, table, companyID, raw)
	case models.EntityProducts:
		return replace[models.Product](ctx, store, table, companyID, raw)
	case models.EntityPriceTables:
		return replace[models.PriceTable](ctx, store, table, companyID, raw)
	case models.EntityTaxRules:
		return replace[models.TaxRule](ctx, store, table, companyID, raw)
	case models.EntityPolicies:
		return replace[models.CommercialPolicy](ctx, store, table, companyID, raw)
	case models.EntityRoutes:
		return replace[models.Route](ctx, store, table, companyID, raw)
	case models.EntityTeams:
		return replace[models.Team](ctx, store, table, companyID, raw)
	case models.EntityUsers:
		return replace[models.User](ctx, store, table, companyID, raw)
	default:
		return 0, fmt.Errorf("unknown reference table %q", table)
	}
}

func replace[T db.Record](ctx context.Context, store *db.Store, table, companyID string, raw []byte) (int, error) {
	items, err := models.DecodeList[T](raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s data: %w", table, err)
	}
	if err := db.BulkReplace(ctx, store, table, companyID, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// ReconnectReport is what OnReconnect did.
type ReconnectReport struct {
	Drain queue.DrainReport `json:"drain"`
	Sync  *Report           `json:"sync,omitempty"`
}

// OnReconnect runs when connectivity returns: retryable failures are
// requeued and the queue drained first, then reference data is refreshed if
// no full sync completed yet in this session.
func (o *Orchestrator) OnReconnect(ctx context.Context) (ReconnectReport, error) {
	var out ReconnectReport
	var errs []error

	drain, err := o.queue.RetryFailed(ctx, queue.RetryRetryableOnly)
	out.Drain = drain
	if err != nil {
		o.logger.Warn("drain on reconnect failed", zap.Error(err))
		errs = append(errs, err)
	}

	if !o.synced.Load() && o.companyID != "" {
		report, err := o.FullSync(ctx, o.companyID, nil)
		switch {
		case errors.Is(err, models.ErrSyncInProgress):
		case err != nil:
			out.Sync = &report
			errs = append(errs, err)
		default:
			out.Sync = &report
		}
	}

	return out, errors.Join(errs...)
}

// OnForegroundTrigger is the user's "sync now" action.
func (o *Orchestrator) OnForegroundTrigger(ctx context.Context, progress func(Progress)) (Report, error) {
	return o.FullSync(ctx, o.companyID, progress)
}

// Status is the orchestrator's view for badges and banners.
type Status struct {
	CompanyID         string               `json:"company_id"`
	Running           bool                 `json:"running"`
	SyncedThisSession bool                 `json:"synced_this_session"`
	Metadata          *models.SyncMetadata `json:"metadata,omitempty"`
}

// Status returns the sync state of the configured company.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	st := Status{
		CompanyID:         o.companyID,
		Running:           o.running.Load(),
		SyncedThisSession: o.synced.Load(),
	}
	if o.companyID == "" {
		return st, nil
	}
	m, err := o.store.GetSyncMetadata(ctx, o.companyID)
	if err != nil {
		return st, err
	}
	st.Metadata = m
	return st, nil
}
