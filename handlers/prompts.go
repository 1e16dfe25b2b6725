// ABOUTME: MCP prompt handlers for reusable order workflow templates
// ABOUTME: Provides prompts for reviewing a failed order, briefing an approver, and checking queue health
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PromptHandlers struct {
	store *db.Store
}

func NewPromptHandlers(store *db.Store) *PromptHandlers {
	return &PromptHandlers{store: store}
}

// Prompts lists the prompt templates for registration.
func (h *PromptHandlers) Prompts() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        "order-review",
			Description: "Explain why a queued order failed and what the seller can do",
			Arguments:   []*mcp.PromptArgument{{Name: "order_id", Description: "Queued order ID", Required: true}},
		},
		{
			Name:        "approval-brief",
			Description: "Summarize an approval request for the approving manager",
			Arguments:   []*mcp.PromptArgument{{Name: "approval_id", Description: "Approval request ID", Required: true}},
		},
		{
			Name:        "queue-health",
			Description: "Summarize the state of the local order queue",
		},
	}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	arguments := request.Params.Arguments
	switch name {
	case "order-review":
		return h.getOrderReviewPrompt(ctx, arguments)
	case "approval-brief":
		return h.getApprovalBriefPrompt(ctx, arguments)
	case "queue-health":
		return h.getQueueHealthPrompt(ctx)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
}

func (h *PromptHandlers) getOrderReviewPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	id, ok := args["order_id"]
	if !ok || id == "" {
		return nil, fmt.Errorf("order_id is required")
	}

	o, err := h.store.GetPendingOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Order %s for partner %s\n", o.ID, o.Payload.PartnerCode))
	promptText.WriteString(fmt.Sprintf("Status: %s after %d attempt(s)\n", o.Status, o.Attempts))
	if o.ErrorMessage != "" {
		promptText.WriteString(fmt.Sprintf("Last error (%s): %s\n", o.ErrorKind, o.ErrorMessage))
	}
	promptText.WriteString("\nLines:\n")
	for _, l := range o.Payload.Lines {
		promptText.WriteString(fmt.Sprintf("- %s x%s at R$ %s, discount %s%%\n",
			l.ProductCode, l.Quantity.String(), l.UnitPrice.StringFixed(2), l.DiscountPct.String()))
	}

	promptText.WriteString("\nPlease explain to the seller:")
	promptText.WriteString("\n1. What went wrong, in plain Portuguese")
	promptText.WriteString("\n2. Whether retrying can help or the order must be changed")
	promptText.WriteString("\n3. The concrete next step")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review of order %s", o.ID),
		Messages:    []*mcp.PromptMessage{{Role: "user", Content: &mcp.TextContent{Text: promptText.String()}}},
	}, nil
}

func (h *PromptHandlers) getApprovalBriefPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	id, ok := args["approval_id"]
	if !ok || id == "" {
		return nil, fmt.Errorf("approval_id is required")
	}

	a, err := h.store.GetApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Approval request %s (%s)\n", a.ID, a.Status))
	promptText.WriteString(fmt.Sprintf("Requested by %s for order %s\n", a.RequesterID, a.OrderID))
	promptText.WriteString(fmt.Sprintf("Seller justification: %s\n", a.Justification))
	promptText.WriteString("\nPolicy violations:\n")
	for _, msg := range a.ViolationMessages() {
		promptText.WriteString(fmt.Sprintf("- %s\n", msg))
	}
	if o, err := h.store.GetPendingOrder(ctx, a.OrderID); err == nil {
		promptText.WriteString(fmt.Sprintf("\nPartner: %s, %d line(s)\n", o.Payload.PartnerCode, len(o.Payload.Lines)))
	}

	promptText.WriteString("\nPlease give the manager a short brief with the risk of each exception and a recommendation.")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Brief for approval %s", a.ID),
		Messages:    []*mcp.PromptMessage{{Role: "user", Content: &mcp.TextContent{Text: promptText.String()}}},
	}, nil
}

func (h *PromptHandlers) getQueueHealthPrompt(ctx context.Context) (*mcp.GetPromptResult, error) {
	counts, err := h.store.CountPendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	failed, err := h.store.ListPendingOrders(ctx, models.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed orders: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("Local order queue:\n")
	for _, st := range models.AllStatuses {
		promptText.WriteString(fmt.Sprintf("- %s: %d\n", st, counts[st]))
	}
	if len(failed) > 0 {
		promptText.WriteString("\nFailed orders:\n")
		for _, o := range failed {
			promptText.WriteString(fmt.Sprintf("- %s (%s): %s\n", o.ID, o.ErrorKind, o.ErrorMessage))
		}
	}

	promptText.WriteString("\nPlease summarize the queue and say which failures need the seller's attention.")

	return &mcp.GetPromptResult{
		Description: "Queue health",
		Messages:    []*mcp.PromptMessage{{Role: "user", Content: &mcp.TextContent{Text: promptText.String()}}},
	}, nil
}
