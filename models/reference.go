// ABOUTME: Cached reference entities mirrored from the server
// ABOUTME: Partners, products, price tables, tax rules, policies, routes, teams, and users
package models

import (
	"github.com/shopspring/decimal"
)

// Reference table names, matching the gateway's /reference/{entity} paths.
const (
	EntityPartners    = "partners"
	EntityProducts    = "products"
	EntityPriceTables = "priceTables"
	EntityTaxRules    = "taxRules"
	EntityPolicies    = "policies"
	EntityRoutes      = "routes"
	EntityTeams       = "teams"
	EntityUsers       = "users"
)

// ReferenceEntities lists every reference table pulled by a full sync, in pull order.
var ReferenceEntities = []string{
	EntityPartners,
	EntityProducts,
	EntityPriceTables,
	EntityTaxRules,
	EntityPolicies,
	EntityRoutes,
	EntityTeams,
	EntityUsers,
}

// Partner is a customer account.
type Partner struct {
	Code        string          `json:"code" validate:"required"`
	CompanyID   string          `json:"company_id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	TaxID       string          `json:"tax_id,omitempty"` // CNPJ/CPF
	State       string          `json:"state,omitempty"`
	RouteCode   string          `json:"route_code,omitempty"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Active      bool            `json:"ativo"`
}

func (p Partner) RecordKey() string   { return p.Code }
func (p Partner) RecordScope() string { return p.CompanyID }

// Product is a sellable item.
type Product struct {
	Code      string `json:"code" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Group     string `json:"group,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Active    bool   `json:"ativo"`
}

func (p Product) RecordKey() string   { return p.Code }
func (p Product) RecordScope() string { return p.CompanyID }

// PriceItem is one product price inside a price table.
type PriceItem struct {
	ProductCode string          `json:"product_code" validate:"required"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
}

// PriceTable is a named list of product prices.
type PriceTable struct {
	Code      string      `json:"code" validate:"required"`
	CompanyID string      `json:"company_id" validate:"required"`
	Name      string      `json:"name"`
	Items     []PriceItem `json:"items" validate:"dive"`
	Active    bool        `json:"ativo"`
}

func (t PriceTable) RecordKey() string   { return t.Code }
func (t PriceTable) RecordScope() string { return t.CompanyID }

// PriceFor returns the listed price of a product.
func (t PriceTable) PriceFor(productCode string) (decimal.Decimal, bool) {
	for _, item := range t.Items {
		if item.ProductCode == productCode {
			return item.Price, true
		}
	}
	return decimal.Zero, false
}

// TaxRule applies a tax rate, or blocks the sale, for a product group in a state.
type TaxRule struct {
	Code         string          `json:"code" validate:"required"`
	CompanyID    string          `json:"company_id" validate:"required"`
	ProductGroup string          `json:"product_group,omitempty"`
	State        string          `json:"state,omitempty"`
	Rate         decimal.Decimal `json:"rate" validate:"gte=0,lte=100"`
	Blocked      bool            `json:"blocked"`
	Active       bool            `json:"ativo"`
}

func (r TaxRule) RecordKey() string   { return r.Code }
func (r TaxRule) RecordScope() string { return r.CompanyID }

// RuleKind is the constraint a commercial policy enforces.
type RuleKind string

const (
	RuleMaxDiscount    RuleKind = "MAX_DISCOUNT"
	RuleMinPrice       RuleKind = "MIN_PRICE"
	RuleCreditLimit    RuleKind = "CREDIT_LIMIT"
	RuleBlockedProduct RuleKind = "BLOCKED_PRODUCT"
	RuleTaxBlocked     RuleKind = "TAX_BLOCKED"
)

// CommercialPolicy is a scoped commercial constraint. Empty scope fields match anything.
type CommercialPolicy struct {
	Code         string          `json:"code" validate:"required"`
	CompanyID    string          `json:"company_id" validate:"required"`
	Kind         RuleKind        `json:"kind" validate:"required,oneof=MAX_DISCOUNT MIN_PRICE CREDIT_LIMIT BLOCKED_PRODUCT"`
	ProductGroup string          `json:"product_group,omitempty"`
	ProductCode  string          `json:"product_code,omitempty"`
	PartnerCode  string          `json:"partner_code,omitempty"`
	Threshold    decimal.Decimal `json:"threshold" validate:"gte=0"`
	Description  string          `json:"description,omitempty"`
	Active       bool            `json:"ativo"`
}

func (p CommercialPolicy) RecordKey() string   { return p.Code }
func (p CommercialPolicy) RecordScope() string { return p.CompanyID }

// Violation is a policy constraint breached by an order draft.
type Violation struct {
	Kind        RuleKind        `json:"kind"`
	Message     string          `json:"message"`
	PolicyCode  string          `json:"policy_code,omitempty"`
	ProductCode string          `json:"product_code,omitempty"`
	Threshold   decimal.Decimal `json:"threshold"`
	Actual      decimal.Decimal `json:"actual"`
}

// Route is a visiting route assigned to a seller.
type Route struct {
	Code       string `json:"code" validate:"required"`
	CompanyID  string `json:"company_id" validate:"required"`
	Name       string `json:"name"`
	SellerCode string `json:"seller_code,omitempty"`
	Active     bool   `json:"ativo"`
}

func (r Route) RecordKey() string   { return r.Code }
func (r Route) RecordScope() string { return r.CompanyID }

// Team groups sellers under a leader.
type Team struct {
	Code      string   `json:"code" validate:"required"`
	CompanyID string   `json:"company_id" validate:"required"`
	Name      string   `json:"name"`
	LeaderID  string   `json:"leader_id,omitempty"`
	Members   []string `json:"members,omitempty"`
	Active    bool     `json:"ativo"`
}

func (t Team) RecordKey() string   { return t.Code }
func (t Team) RecordScope() string { return t.CompanyID }

// User is a CRM user as cached for approver selection.
type User struct {
	ID         string `json:"id" validate:"required"`
	CompanyID  string `json:"company_id" validate:"required"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	SellerCode string `json:"seller_code,omitempty"`
	CanApprove bool   `json:"can_approve"`
	Active     bool   `json:"ativo"`
}

func (u User) RecordKey() string   { return u.ID }
func (u User) RecordScope() string { return u.CompanyID }
