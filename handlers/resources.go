// ABOUTME: MCP resource handlers for exposing queue and reference data
// ABOUTME: Provides read-only access to queued orders, approvals, partners, and table counts via URI
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "vendas://"

type ResourceHandlers struct {
	store   *db.Store
	session models.Session
}

func NewResourceHandlers(store *db.Store, session models.Session) *ResourceHandlers {
	return &ResourceHandlers{store: store, session: session}
}

// Resources lists the fixed resources for registration.
func (h *ResourceHandlers) Resources() []*mcp.Resource {
	return []*mcp.Resource{
		{URI: resourceScheme + "queue", Name: "queue", Description: "Orders waiting in the local queue", MIMEType: "application/json"},
		{URI: resourceScheme + "approvals", Name: "approvals", Description: "Approval requests raised on this device", MIMEType: "application/json"},
		{URI: resourceScheme + "partners", Name: "partners", Description: "Cached partners of the session company", MIMEType: "application/json"},
		{URI: resourceScheme + "reference", Name: "reference", Description: "Record counts per cached reference table", MIMEType: "application/json"},
	}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "queue":
		if len(parts) == 1 {
			orders, err := h.store.ListPendingOrders(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch queue: %w", err)
			}
			return jsonResource(uri, orders)
		}
		order, err := h.store.GetPendingOrder(ctx, parts[1])
		if err != nil {
			return nil, fmt.Errorf("failed to fetch order: %w", err)
		}
		return jsonResource(uri, order)

	case "approvals":
		approvals, err := h.store.ListApprovals(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch approvals: %w", err)
		}
		return jsonResource(uri, approvals)

	case "partners":
		partners, err := h.store.ListPartners(ctx, h.session.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch partners: %w", err)
		}
		return jsonResource(uri, partners)

	case "reference":
		counts, err := h.store.ReferenceCounts(ctx, h.session.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("failed to count reference tables: %w", err)
		}
		return jsonResource(uri, counts)

	default:
		return nil, fmt.Errorf("unknown resource: %s", parts[0])
	}
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
