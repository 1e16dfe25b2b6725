// ABOUTME: Reference data sync MCP tool handlers
// ABOUTME: Implements full_sync and sync_status tools
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type SyncHandlers struct {
	sync    *sync.Orchestrator
	monitor *sync.Monitor
}

func NewSyncHandlers(orch *sync.Orchestrator, monitor *sync.Monitor) *SyncHandlers {
	return &SyncHandlers{sync: orch, monitor: monitor}
}

type FullSyncInput struct{}

type TableOutput struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

type FullSyncOutput struct {
	Tables []TableOutput `json:"tables"`
	Failed []string      `json:"failed"`
	Stale  bool          `json:"stale"`
	Error  string        `json:"error,omitempty"`
}

// FullSync refreshes every reference table. A partial failure is reported
// in the output rather than as a tool error, since the tables that did
// refresh are kept.
func (h *SyncHandlers) FullSync(ctx context.Context, request *mcp.CallToolRequest, input FullSyncInput) (*mcp.CallToolResult, FullSyncOutput, error) {
	report, err := h.sync.OnForegroundTrigger(ctx, nil)
	if err != nil && !errors.Is(err, models.ErrStaleReferenceData) {
		return nil, FullSyncOutput{}, fmt.Errorf("failed to sync reference data: %w", err)
	}

	out := FullSyncOutput{
		Tables: make([]TableOutput, 0, len(report.Tables)),
		Failed: append([]string{}, report.Failed...),
		Stale:  err != nil,
	}
	if err != nil {
		out.Error = err.Error()
	}
	for _, t := range report.Tables {
		out.Tables = append(out.Tables, TableOutput{Table: t.Table, Records: t.Records, Error: t.Error})
	}
	return nil, out, nil
}

type SyncStatusInput struct{}

type SyncStatusOutput struct {
	CompanyID         string         `json:"company_id"`
	Online            bool           `json:"online"`
	Running           bool           `json:"running"`
	SyncedThisSession bool           `json:"synced_this_session"`
	LastSyncAt        string         `json:"last_sync_at,omitempty"`
	LastAttemptAt     string         `json:"last_attempt_at,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	Counts            map[string]int `json:"counts,omitempty"`
}

func (h *SyncHandlers) SyncStatus(ctx context.Context, request *mcp.CallToolRequest, input SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	st, err := h.sync.Status(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to read sync status: %w", err)
	}

	out := SyncStatusOutput{
		CompanyID:         st.CompanyID,
		Running:           st.Running,
		SyncedThisSession: st.SyncedThisSession,
	}
	if h.monitor != nil {
		out.Online, _ = h.monitor.Online()
	}
	if md := st.Metadata; md != nil {
		out.LastSyncAt = formatTime(md.LastSyncAt)
		out.LastAttemptAt = formatTime(md.LastAttemptAt)
		out.LastError = md.LastError
		out.Counts = md.Counts
	}
	return nil, out, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
