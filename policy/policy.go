// ABOUTME: Commercial policy and tax rule evaluation for order drafts
// ABOUTME: Pure functions over cached tables; no storage or network access
package policy

import (
	"fmt"

	"github.com/harperreed/vendas/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate returns the violations of draft against the given policies and
// tax rules. Inactive rules are ignored and a draft with no matching rule
// has no violations. Among matching rules of one kind the most restrictive
// threshold wins. Output follows line order, then kind; the credit check
// comes last.
func Evaluate(draft models.OrderDraft, policies []models.CommercialPolicy, taxRules []models.TaxRule) []models.Violation {
	var out []models.Violation

	for _, line := range draft.Lines {
		if v, ok := blockedProduct(draft, line, policies); ok {
			out = append(out, v)
		}
		if v, ok := taxBlocked(draft, line, taxRules); ok {
			out = append(out, v)
		}
		if v, ok := maxDiscount(draft, line, policies); ok {
			out = append(out, v)
		}
		if v, ok := minPrice(draft, line, policies); ok {
			out = append(out, v)
		}
	}

	if v, ok := creditLimit(draft, policies, taxRules); ok {
		out = append(out, v)
	}
	return out
}

// Totals prices a draft. Tax per line uses the highest rate among the
// matching, non-blocking tax rules.
func Totals(draft models.OrderDraft, taxRules []models.TaxRule) models.Totals {
	t := models.Totals{
		Gross:    decimal.Zero,
		Discount: decimal.Zero,
		Net:      decimal.Zero,
		Tax:      decimal.Zero,
	}
	for _, line := range draft.Lines {
		net := line.Net()
		t.Gross = t.Gross.Add(line.Gross())
		t.Discount = t.Discount.Add(line.Discount())
		t.Net = t.Net.Add(net)
		if rate, ok := TaxRate(draft, line, taxRules); ok {
			t.Tax = t.Tax.Add(net.Mul(rate).Div(hundred).Round(2))
		}
	}
	t.Total = t.Net.Add(t.Tax)
	return t
}

// TaxRate returns the highest rate of the active tax rules matching a line.
func TaxRate(draft models.OrderDraft, line models.OrderLine, taxRules []models.TaxRule) (decimal.Decimal, bool) {
	var rate decimal.Decimal
	found := false
	for _, r := range taxRules {
		if !r.Active || r.Blocked || !taxRuleMatches(r, draft, line) {
			continue
		}
		if !found || r.Rate.GreaterThan(rate) {
			rate = r.Rate
			found = true
		}
	}
	return rate, found
}

// matches reports whether p applies to the draft, and to line when line is
// not nil. Empty scope fields match anything.
func matches(p models.CommercialPolicy, draft models.OrderDraft, line *models.OrderLine) bool {
	if !p.Active {
		return false
	}
	if p.CompanyID != "" && p.CompanyID != draft.CompanyID {
		return false
	}
	if p.PartnerCode != "" && p.PartnerCode != draft.PartnerCode {
		return false
	}
	if line == nil {
		return true
	}
	if p.ProductGroup != "" && p.ProductGroup != line.ProductGroup {
		return false
	}
	if p.ProductCode != "" && p.ProductCode != line.ProductCode {
		return false
	}
	return true
}

func taxRuleMatches(r models.TaxRule, draft models.OrderDraft, line models.OrderLine) bool {
	if r.CompanyID != "" && r.CompanyID != draft.CompanyID {
		return false
	}
	if r.ProductGroup != "" && r.ProductGroup != line.ProductGroup {
		return false
	}
	if r.State != "" && r.State != draft.State {
		return false
	}
	return true
}

// strictest picks the matching policy of kind with the most restrictive
// threshold according to tighter.
func strictest(kind models.RuleKind, draft models.OrderDraft, line *models.OrderLine, policies []models.CommercialPolicy, tighter func(a, b decimal.Decimal) bool) (models.CommercialPolicy, bool) {
	var best models.CommercialPolicy
	found := false
	for _, p := range policies {
		if p.Kind != kind || !matches(p, draft, line) {
			continue
		}
		if !found || tighter(p.Threshold, best.Threshold) {
			best = p
			found = true
		}
	}
	return best, found
}

func lower(a, b decimal.Decimal) bool  { return a.LessThan(b) }
func higher(a, b decimal.Decimal) bool { return a.GreaterThan(b) }

func blockedProduct(draft models.OrderDraft, line models.OrderLine, policies []models.CommercialPolicy) (models.Violation, bool) {
	for _, p := range policies {
		if p.Kind != models.RuleBlockedProduct || !matches(p, draft, &line) {
			continue
		}
		return models.Violation{
			Kind:        models.RuleBlockedProduct,
			Message:     fmt.Sprintf("produto %s bloqueado para venda", line.ProductCode),
			PolicyCode:  p.Code,
			ProductCode: line.ProductCode,
		}, true
	}
	return models.Violation{}, false
}

func taxBlocked(draft models.OrderDraft, line models.OrderLine, taxRules []models.TaxRule) (models.Violation, bool) {
	for _, r := range taxRules {
		if !r.Active || !r.Blocked || !taxRuleMatches(r, draft, line) {
			continue
		}
		where := draft.State
		if where == "" {
			where = "todas as UFs"
		}
		return models.Violation{
			Kind:        models.RuleTaxBlocked,
			Message:     fmt.Sprintf("produto %s com venda bloqueada por regra fiscal (%s)", line.ProductCode, where),
			PolicyCode:  r.Code,
			ProductCode: line.ProductCode,
		}, true
	}
	return models.Violation{}, false
}

func maxDiscount(draft models.OrderDraft, line models.OrderLine, policies []models.CommercialPolicy) (models.Violation, bool) {
	p, ok := strictest(models.RuleMaxDiscount, draft, &line, policies, lower)
	if !ok || !line.DiscountPct.GreaterThan(p.Threshold) {
		return models.Violation{}, false
	}
	return models.Violation{
		Kind: models.RuleMaxDiscount,
		Message: fmt.Sprintf("desconto de %s%% no produto %s excede o limite de %s%%",
			line.DiscountPct.String(), line.ProductCode, p.Threshold.String()),
		PolicyCode:  p.Code,
		ProductCode: line.ProductCode,
		Threshold:   p.Threshold,
		Actual:      line.DiscountPct,
	}, true
}

func minPrice(draft models.OrderDraft, line models.OrderLine, policies []models.CommercialPolicy) (models.Violation, bool) {
	p, ok := strictest(models.RuleMinPrice, draft, &line, policies, higher)
	if !ok {
		return models.Violation{}, false
	}
	net := line.NetUnitPrice()
	if !net.LessThan(p.Threshold) {
		return models.Violation{}, false
	}
	return models.Violation{
		Kind: models.RuleMinPrice,
		Message: fmt.Sprintf("preço de R$ %s no produto %s abaixo do mínimo de R$ %s",
			net.StringFixed(2), line.ProductCode, p.Threshold.StringFixed(2)),
		PolicyCode:  p.Code,
		ProductCode: line.ProductCode,
		Threshold:   p.Threshold,
		Actual:      net,
	}, true
}

// creditLimit checks the order total plus the partner's open balance
// against the lowest matching credit ceiling.
func creditLimit(draft models.OrderDraft, policies []models.CommercialPolicy, taxRules []models.TaxRule) (models.Violation, bool) {
	p, ok := strictest(models.RuleCreditLimit, draft, nil, policies, lower)
	if !ok {
		return models.Violation{}, false
	}
	exposure := Totals(draft, taxRules).Total.Add(draft.OpenBalance)
	if !exposure.GreaterThan(p.Threshold) {
		return models.Violation{}, false
	}
	return models.Violation{
		Kind: models.RuleCreditLimit,
		Message: fmt.Sprintf("limite de crédito excedido: R$ %s acima do limite de R$ %s",
			exposure.StringFixed(2), p.Threshold.StringFixed(2)),
		PolicyCode: p.Code,
		Threshold:  p.Threshold,
		Actual:     exposure,
	}, true
}

// PartnerCreditPolicy turns a cached partner's credit limit into a
// CREDIT_LIMIT policy scoped to that partner. Partners without a positive
// limit yield nothing.
func PartnerCreditPolicy(p models.Partner) (models.CommercialPolicy, bool) {
	if !p.CreditLimit.IsPositive() {
		return models.CommercialPolicy{}, false
	}
	return models.CommercialPolicy{
		Code:        "PARTNER:" + p.Code,
		CompanyID:   p.CompanyID,
		Kind:        models.RuleCreditLimit,
		PartnerCode: p.Code,
		Threshold:   p.CreditLimit,
		Description: "limite de crédito do parceiro",
		Active:      true,
	}, true
}
