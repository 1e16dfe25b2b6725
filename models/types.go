// ABOUTME: Data models for the offline sales order subsystem
// ABOUTME: Defines pending orders, order payloads, approvals, and sync metadata
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a locally queued order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusInFlight  OrderStatus = "IN_FLIGHT"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusFailed    OrderStatus = "FAILED"
)

// AllStatuses lists every order status in lifecycle order.
var AllStatuses = []OrderStatus{StatusPending, StatusInFlight, StatusConfirmed, StatusFailed}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Origin tags which flow created a pending order.
type Origin string

const (
	OriginOfflineSale      Origin = "OFFLINE_SALE"
	OriginFailedSubmission Origin = "FAILED_SUBMISSION"
	OriginLeadConversion   Origin = "LEAD_CONVERSION"
	OriginImport           Origin = "IMPORT"
)

// ErrorKind classifies why an order ended up FAILED.
type ErrorKind string

const (
	ErrorKindNetwork          ErrorKind = "network"
	ErrorKindRejected         ErrorKind = "rejected"
	ErrorKindApprovalRejected ErrorKind = "approval_rejected"
	ErrorKindInternal         ErrorKind = "internal"
)

// Retryable reports whether a failure of this kind may be retried without
// the seller touching the order.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindNetwork || k == ErrorKindInternal
}

// OrderLine is one product line of an order.
type OrderLine struct {
	ProductCode  string          `json:"product_code" validate:"required"`
	ProductGroup string          `json:"product_group,omitempty"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice    decimal.Decimal `json:"unit_price" validate:"gte=0"`
	DiscountPct  decimal.Decimal `json:"discount_pct" validate:"gte=0,lte=100"`
}

// Gross is quantity times list price.
func (l OrderLine) Gross() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Discount is the amount taken off the gross value.
func (l OrderLine) Discount() decimal.Decimal {
	return l.Gross().Mul(l.DiscountPct).Div(decimal.NewFromInt(100)).Round(2)
}

// Net is the line value after discount.
func (l OrderLine) Net() decimal.Decimal {
	return l.Gross().Sub(l.Discount())
}

// NetUnitPrice is the unit price after discount.
func (l OrderLine) NetUnitPrice() decimal.Decimal {
	factor := decimal.NewFromInt(100).Sub(l.DiscountPct).Div(decimal.NewFromInt(100))
	return l.UnitPrice.Mul(factor).Round(2)
}

// OrderPayload is the full commercial content of a sales order.
type OrderPayload struct {
	PartnerCode    string          `json:"partner_code" validate:"required"`
	PriceTableCode string          `json:"price_table_code,omitempty"`
	RouteCode      string          `json:"route_code,omitempty"`
	State          string          `json:"state,omitempty" validate:"omitempty,len=2"`
	PaymentTerms   string          `json:"payment_terms,omitempty"`
	OpenBalance    decimal.Decimal `json:"open_balance" validate:"gte=0"` // partner balance already owed when the draft was made
	Notes          string          `json:"notes,omitempty"`
	Lines          []OrderLine     `json:"lines" validate:"required,min=1,dive"`
}

// OrderDraft is an order payload bound to the company it is sold under.
type OrderDraft struct {
	CompanyID string `json:"company_id" validate:"required"`
	OrderPayload
}

// Totals is the priced breakdown of an order.
type Totals struct {
	Gross    decimal.Decimal `json:"gross"`
	Discount decimal.Decimal `json:"discount"`
	Net      decimal.Decimal `json:"net"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// PendingOrder is a sales order queued on the device until the server confirms it.
type PendingOrder struct {
	ID            string       `json:"id"`
	Origin        Origin       `json:"origin"`
	CompanyID     string       `json:"company_id"`
	LeadID        string       `json:"lead_id,omitempty"`
	Payload       OrderPayload `json:"payload"`
	Status        OrderStatus  `json:"status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	ErrorKind     ErrorKind    `json:"error_kind,omitempty"`
	Attempts      int          `json:"attempts"`
	ServerID      int64        `json:"server_id,omitempty"`
	ApprovalID    string       `json:"approval_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	ConfirmedAt   *time.Time   `json:"confirmed_at,omitempty"`
	CreatedByID   string       `json:"created_by_id"`
	CreatedByName string       `json:"created_by_name,omitempty"`
}

func (o PendingOrder) RecordKey() string   { return o.ID }
func (o PendingOrder) RecordScope() string { return "" }

// Draft returns the order as a draft for policy evaluation.
func (o PendingOrder) Draft() OrderDraft {
	return OrderDraft{CompanyID: o.CompanyID, OrderPayload: o.Payload}
}

// Submission is what the device sends to the gateway for one order.
// LocalID lets the gateway deduplicate replays.
type Submission struct {
	LocalID    string       `json:"localId"`
	CompanyID  string       `json:"companyId"`
	LeadID     string       `json:"leadId,omitempty"`
	Origin     Origin       `json:"origin"`
	SellerID   string       `json:"sellerId"`
	ApprovalID string       `json:"approvalId,omitempty"`
	Payload    OrderPayload `json:"payload"`
}

// NewSubmission builds the wire submission for a pending order.
func NewSubmission(o PendingOrder) Submission {
	return Submission{
		LocalID:    o.ID,
		CompanyID:  o.CompanyID,
		LeadID:     o.LeadID,
		Origin:     o.Origin,
		SellerID:   o.CreatedByID,
		ApprovalID: o.ApprovalID,
		Payload:    o.Payload,
	}
}

// ApprovalStatus is the state of a manager sign-off.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APROVADO"
	ApprovalRejected ApprovalStatus = "REJEITADO"
)

// Responded reports whether the approval reached a terminal state.
func (s ApprovalStatus) Responded() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ApprovalRequest tracks an exception request for a policy-violating order.
type ApprovalRequest struct {
	ID                    string         `json:"id"`
	OrderID               string         `json:"order_id"`
	CompanyID             string         `json:"company_id"`
	Violations            []Violation    `json:"violations"`
	Justification         string         `json:"justification"`
	ApproverID            string         `json:"approver_id"`
	RequesterID           string         `json:"requester_id"`
	Status                ApprovalStatus `json:"status"`
	ResponderID           string         `json:"responder_id,omitempty"`
	ResponseJustification string         `json:"response_justification,omitempty"`
	RespondedAt           *time.Time     `json:"responded_at,omitempty"`
	Registered            bool           `json:"registered"`
	CreatedAt             time.Time      `json:"created_at"`
}

func (a ApprovalRequest) RecordKey() string   { return a.ID }
func (a ApprovalRequest) RecordScope() string { return "" }

// ViolationMessages returns the human-readable text of each violation.
func (a ApprovalRequest) ViolationMessages() []string {
	msgs := make([]string, 0, len(a.Violations))
	for _, v := range a.Violations {
		msgs = append(msgs, v.Message)
	}
	return msgs
}

// ApprovalState is the gateway's view of an approval request.
type ApprovalState struct {
	ID            string         `json:"id" validate:"required"`
	Status        ApprovalStatus `json:"status" validate:"required,oneof=PENDING APROVADO REJEITADO"`
	ResponderID   string         `json:"responderId,omitempty"`
	Justification string         `json:"justification,omitempty"`
	RespondedAt   *time.Time     `json:"respondedAt,omitempty"`
}

// SyncMetadata records the outcome of reference-data syncs for one company.
type SyncMetadata struct {
	CompanyID     string         `json:"company_id"`
	LastSyncAt    *time.Time     `json:"last_sync_at,omitempty"`
	Counts        map[string]int `json:"counts,omitempty"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

func (m SyncMetadata) RecordKey() string   { return m.CompanyID }
func (m SyncMetadata) RecordScope() string { return "" }

// Session is the identity of the user operating the device.
type Session struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName,omitempty"`
	CompanyID  string `json:"companyId"`
	Role       string `json:"role"`
	SellerCode string `json:"sellerCode,omitempty"`
}
