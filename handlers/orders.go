// ABOUTME: Order queue MCP tool handlers
// ABOUTME: Implements evaluate_order, queue_order, list_queue, queue_counts, drain_queue, retry_failed, respond_approval
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
)

type OrderHandlers struct {
	queue   *queue.Manager
	session models.Session
}

func NewOrderHandlers(q *queue.Manager, session models.Session) *OrderHandlers {
	return &OrderHandlers{queue: q, session: session}
}

// LineInput carries amounts as decimal strings.
type LineInput struct {
	ProductCode  string `json:"product_code" jsonschema:"Product code (required)"`
	ProductGroup string `json:"product_group,omitempty" jsonschema:"Product group used by policies and tax rules"`
	Quantity     string `json:"quantity" jsonschema:"Quantity as a decimal string, e.g. 2 or 1.5"`
	UnitPrice    string `json:"unit_price" jsonschema:"Unit price in BRL as a decimal string, e.g. 10.90"`
	DiscountPct  string `json:"discount_pct,omitempty" jsonschema:"Discount percentage, e.g. 5 for 5%"`
}

type OrderInput struct {
	PartnerCode    string      `json:"partner_code" jsonschema:"Partner (customer) code (required)"`
	PriceTableCode string      `json:"price_table_code,omitempty" jsonschema:"Price table code"`
	RouteCode      string      `json:"route_code,omitempty" jsonschema:"Route code"`
	State          string      `json:"state,omitempty" jsonschema:"Two-letter state of delivery, e.g. SP"`
	PaymentTerms   string      `json:"payment_terms,omitempty" jsonschema:"Payment terms"`
	OpenBalance    string      `json:"open_balance,omitempty" jsonschema:"Partner balance already owed, in BRL"`
	Notes          string      `json:"notes,omitempty" jsonschema:"Free text notes"`
	Lines          []LineInput `json:"lines" jsonschema:"Order lines (at least one)"`
}

type ViolationOutput struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	ProductCode string `json:"product_code,omitempty"`
	Threshold   string `json:"threshold"`
	Actual      string `json:"actual"`
}

type TotalsOutput struct {
	Gross    string `json:"gross"`
	Discount string `json:"discount"`
	Net      string `json:"net"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type OrderOutput struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Origin       string `json:"origin"`
	PartnerCode  string `json:"partner_code"`
	Lines        int    `json:"lines"`
	Attempts     int    `json:"attempts"`
	ServerID     int64  `json:"server_id,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ApprovalID   string `json:"approval_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ApprovalOutput struct {
	ID            string   `json:"id"`
	OrderID       string   `json:"order_id"`
	Status        string   `json:"status"`
	ApproverID    string   `json:"approver_id"`
	RequesterID   string   `json:"requester_id"`
	Justification string   `json:"justification"`
	Violations    []string `json:"violations"`
	Registered    bool     `json:"registered"`
	RespondedAt   string   `json:"responded_at,omitempty"`
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", models.ErrInvalidPayload, field, raw)
	}
	return d, nil
}

func (in OrderInput) draft(companyID string) (models.OrderDraft, error) {
	openBalance, err := parseAmount("open_balance", in.OpenBalance)
	if err != nil {
		return models.OrderDraft{}, err
	}
	draft := models.OrderDraft{
		CompanyID: companyID,
		OrderPayload: models.OrderPayload{
			PartnerCode:    in.PartnerCode,
			PriceTableCode: in.PriceTableCode,
			RouteCode:      in.RouteCode,
			State:          strings.ToUpper(in.State),
			PaymentTerms:   in.PaymentTerms,
			OpenBalance:    openBalance,
			Notes:          in.Notes,
		},
	}
	for i, l := range in.Lines {
		qty, err := parseAmount(fmt.Sprintf("lines[%d].quantity", i), l.Quantity)
		if err != nil {
			return models.OrderDraft{}, err
		}
		price, err := parseAmount(fmt.Sprintf("lines[%d].unit_price", i), l.UnitPrice)
		if err != nil {
			return models.OrderDraft{}, err
		}
		discount, err := parseAmount(fmt.Sprintf("lines[%d].discount_pct", i), l.DiscountPct)
		if err != nil {
			return models.OrderDraft{}, err
		}
		draft.Lines = append(draft.Lines, models.OrderLine{
			ProductCode:  l.ProductCode,
			ProductGroup: l.ProductGroup,
			Quantity:     qty,
			UnitPrice:    price,
			DiscountPct:  discount,
		})
	}
	return draft, nil
}

type EvaluateOrderOutput struct {
	NeedsApproval bool              `json:"needs_approval"`
	Violations    []ViolationOutput `json:"violations"`
	Totals        TotalsOutput      `json:"totals"`
}

func (h *OrderHandlers) EvaluateOrder(ctx context.Context, request *mcp.CallToolRequest, input OrderInput) (*mcp.CallToolResult, EvaluateOrderOutput, error) {
	draft, err := input.draft(h.session.CompanyID)
	if err != nil {
		return nil, EvaluateOrderOutput{}, err
	}

	violations, totals, err := h.queue.Evaluate(ctx, draft)
	if err != nil {
		return nil, EvaluateOrderOutput{}, fmt.Errorf("failed to evaluate order: %w", err)
	}

	return nil, EvaluateOrderOutput{
		NeedsApproval: len(violations) > 0,
		Violations:    violationsToOutput(violations),
		Totals:        totalsToOutput(totals),
	}, nil
}

type QueueOrderInput struct {
	Order                 OrderInput `json:"order" jsonschema:"The order to queue"`
	Origin                string     `json:"origin,omitempty" jsonschema:"OFFLINE_SALE (default) or LEAD_CONVERSION"`
	LeadID                string     `json:"lead_id,omitempty" jsonschema:"Lead being converted, for LEAD_CONVERSION orders"`
	ApproverID            string     `json:"approver_id,omitempty" jsonschema:"Manager asked to approve policy exceptions"`
	ApprovalJustification string     `json:"approval_justification,omitempty" jsonschema:"Why the exception should be approved"`
}

type QueueOrderOutput struct {
	Order      OrderOutput       `json:"order"`
	Approval   *ApprovalOutput   `json:"approval,omitempty"`
	Violations []ViolationOutput `json:"violations,omitempty"`
}

func (h *OrderHandlers) QueueOrder(ctx context.Context, request *mcp.CallToolRequest, input QueueOrderInput) (*mcp.CallToolResult, QueueOrderOutput, error) {
	draft, err := input.Order.draft(h.session.CompanyID)
	if err != nil {
		return nil, QueueOrderOutput{}, err
	}

	req := queue.EnqueueRequest{
		Draft:  draft,
		Origin: models.Origin(strings.ToUpper(input.Origin)),
		LeadID: input.LeadID,
		Seller: h.session,
	}
	if input.ApproverID != "" || input.ApprovalJustification != "" {
		req.Approval = &queue.ApprovalInput{
			ApproverID:    input.ApproverID,
			Justification: input.ApprovalJustification,
		}
	}

	res, err := h.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, QueueOrderOutput{Violations: violationsToOutput(res.Violations)}, fmt.Errorf("failed to queue order: %w", err)
	}

	out := QueueOrderOutput{
		Order:      orderToOutput(res.Order),
		Violations: violationsToOutput(res.Violations),
	}
	if res.Approval != nil {
		a := approvalToOutput(*res.Approval)
		out.Approval = &a
	}
	return nil, out, nil
}

type ListQueueInput struct {
	Status string `json:"status,omitempty" jsonschema:"Comma separated statuses to include: PENDING, IN_FLIGHT, CONFIRMED, FAILED"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 50)"`
}

type ListQueueOutput struct {
	Orders []OrderOutput `json:"orders"`
}

func (h *OrderHandlers) ListQueue(ctx context.Context, request *mcp.CallToolRequest, input ListQueueInput) (*mcp.CallToolResult, ListQueueOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = 50
	}

	var statuses []models.OrderStatus
	if input.Status != "" {
		for _, part := range strings.Split(input.Status, ",") {
			st := models.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !st.Valid() {
				return nil, ListQueueOutput{}, fmt.Errorf("%w: unknown status %q", models.ErrInvalidPayload, part)
			}
			statuses = append(statuses, st)
		}
	}

	orders, err := h.queue.List(ctx, statuses...)
	if err != nil {
		return nil, ListQueueOutput{}, fmt.Errorf("failed to list queue: %w", err)
	}

	out := ListQueueOutput{Orders: make([]OrderOutput, 0, len(orders))}
	for i, o := range orders {
		if i >= limit {
			break
		}
		out.Orders = append(out.Orders, orderToOutput(o))
	}
	return nil, out, nil
}

type QueueCountsInput struct{}

type QueueCountsOutput struct {
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}

func (h *OrderHandlers) QueueCounts(ctx context.Context, request *mcp.CallToolRequest, input QueueCountsInput) (*mcp.CallToolResult, QueueCountsOutput, error) {
	counts, err := h.queue.Counts(ctx)
	if err != nil {
		return nil, QueueCountsOutput{}, fmt.Errorf("failed to count queue: %w", err)
	}
	return nil, QueueCountsOutput{
		Pending:   counts[models.StatusPending],
		InFlight:  counts[models.StatusInFlight],
		Confirmed: counts[models.StatusConfirmed],
		Failed:    counts[models.StatusFailed],
	}, nil
}

type DrainInput struct{}

type RetryFailedInput struct {
	All bool `json:"all,omitempty" jsonschema:"Also retry orders the server rejected (default: network and internal failures only)"`
}

type DrainOutput struct {
	Skipped             bool           `json:"skipped"`
	Recovered           int            `json:"recovered"`
	Requeued            int            `json:"requeued"`
	Attempted           int            `json:"attempted"`
	Confirmed           int            `json:"confirmed"`
	Failed              int            `json:"failed"`
	Held                int            `json:"held"`
	ApprovalsRegistered int            `json:"approvals_registered"`
	ApprovalsUpdated    int            `json:"approvals_updated"`
	Results             []ResultOutput `json:"results"`
}

type ResultOutput struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	ServerID int64  `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *OrderHandlers) DrainQueue(ctx context.Context, request *mcp.CallToolRequest, input DrainInput) (*mcp.CallToolResult, DrainOutput, error) {
	report, err := h.queue.Drain(ctx)
	if err != nil {
		return nil, DrainOutput{}, fmt.Errorf("failed to drain queue: %w", err)
	}
	return nil, drainToOutput(report), nil
}

func (h *OrderHandlers) RetryFailed(ctx context.Context, request *mcp.CallToolRequest, input RetryFailedInput) (*mcp.CallToolResult, DrainOutput, error) {
	scope := queue.RetryRetryableOnly
	if input.All {
		scope = queue.RetryAll
	}
	report, err := h.queue.RetryFailed(ctx, scope)
	if err != nil {
		return nil, DrainOutput{}, fmt.Errorf("failed to retry orders: %w", err)
	}
	return nil, drainToOutput(report), nil
}

type RespondApprovalInput struct {
	ApprovalID    string `json:"approval_id" jsonschema:"Approval request ID (required)"`
	Status        string `json:"status" jsonschema:"APROVADO or REJEITADO"`
	Justification string `json:"justification,omitempty" jsonschema:"Reason for the decision"`
}

func (h *OrderHandlers) RespondApproval(ctx context.Context, request *mcp.CallToolRequest, input RespondApprovalInput) (*mcp.CallToolResult, ApprovalOutput, error) {
	if input.ApprovalID == "" {
		return nil, ApprovalOutput{}, fmt.Errorf("approval_id is required")
	}

	a, err := h.queue.RespondApproval(ctx, input.ApprovalID,
		models.ApprovalStatus(strings.ToUpper(input.Status)), input.Justification, h.session)
	if err != nil {
		return nil, ApprovalOutput{}, fmt.Errorf("failed to respond to approval: %w", err)
	}
	return nil, approvalToOutput(a), nil
}

func orderToOutput(o models.PendingOrder) OrderOutput {
	return OrderOutput{
		ID:           o.ID,
		Status:       string(o.Status),
		Origin:       string(o.Origin),
		PartnerCode:  o.Payload.PartnerCode,
		Lines:        len(o.Payload.Lines),
		Attempts:     o.Attempts,
		ServerID:     o.ServerID,
		ErrorKind:    string(o.ErrorKind),
		ErrorMessage: o.ErrorMessage,
		ApprovalID:   o.ApprovalID,
		CreatedAt:    o.CreatedAt.Format(time.RFC3339),
	}
}

func approvalToOutput(a models.ApprovalRequest) ApprovalOutput {
	out := ApprovalOutput{
		ID:            a.ID,
		OrderID:       a.OrderID,
		Status:        string(a.Status),
		ApproverID:    a.ApproverID,
		RequesterID:   a.RequesterID,
		Justification: a.Justification,
		Violations:    a.ViolationMessages(),
		Registered:    a.Registered,
	}
	if a.RespondedAt != nil {
		out.RespondedAt = a.RespondedAt.Format(time.RFC3339)
	}
	return out
}

func violationsToOutput(vs []models.Violation) []ViolationOutput {
	out := make([]ViolationOutput, 0, len(vs))
	for _, v := range vs {
		out = append(out, ViolationOutput{
			Kind:        string(v.Kind),
			Message:     v.Message,
			ProductCode: v.ProductCode,
			Threshold:   v.Threshold.String(),
			Actual:      v.Actual.String(),
		})
	}
	return out
}

func totalsToOutput(t models.Totals) TotalsOutput {
	return TotalsOutput{
		Gross:    t.Gross.StringFixed(2),
		Discount: t.Discount.StringFixed(2),
		Net:      t.Net.StringFixed(2),
		Tax:      t.Tax.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
}

func drainToOutput(r queue.DrainReport) DrainOutput {
	out := DrainOutput{
		Skipped:             r.Skipped,
		Recovered:           r.Recovered,
		Requeued:            r.Requeued,
		Attempted:           r.Attempted,
		Confirmed:           r.Confirmed,
		Failed:              r.Failed,
		Held:                r.Held,
		ApprovalsRegistered: r.ApprovalsRegistered,
		ApprovalsUpdated:    r.ApprovalsUpdated,
		Results:             make([]ResultOutput, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		out.Results = append(out.Results, ResultOutput{
			OrderID:  res.OrderID,
			Status:   string(res.Status),
			ServerID: res.ServerID,
			Error:    res.Error,
		})
	}
	return out
}
