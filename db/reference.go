// ABOUTME: Read helpers for cached reference tables scoped by company
// ABOUTME: Used by the policy evaluator, the queue, and the local API
package db

import (
	"context"
	"fmt"

	"github.com/harperreed/vendas/models"
)

// ActivePolicies returns the active commercial policies of a company.
func (s *Store) ActivePolicies(ctx context.Context, companyID string) ([]models.CommercialPolicy, error) {
	return Query(ctx, s, TablePolicies, companyID, func(p models.CommercialPolicy) bool {
		return p.Active
	})
}

// ActiveTaxRules returns the active tax rules of a company.
func (s *Store) ActiveTaxRules(ctx context.Context, companyID string) ([]models.TaxRule, error) {
	return Query(ctx, s, TableTaxRules, companyID, func(r models.TaxRule) bool {
		return r.Active
	})
}

// GetPartner returns a cached partner.
func (s *Store) GetPartner(ctx context.Context, companyID, code string) (models.Partner, error) {
	return Get[models.Partner](ctx, s, TablePartners, companyID, code)
}

// ListPartners returns cached partners ordered by code.
func (s *Store) ListPartners(ctx context.Context, companyID string) ([]models.Partner, error) {
	return Query[models.Partner](ctx, s, TablePartners, companyID, nil)
}

// ListProducts returns cached products ordered by code.
func (s *Store) ListProducts(ctx context.Context, companyID string) ([]models.Product, error) {
	return Query[models.Product](ctx, s, TableProducts, companyID, nil)
}

// GetPriceTable returns a cached price table.
func (s *Store) GetPriceTable(ctx context.Context, companyID, code string) (models.PriceTable, error) {
	return Get[models.PriceTable](ctx, s, TablePriceTables, companyID, code)
}

// Approvers returns active users of a company allowed to answer approval requests.
func (s *Store) Approvers(ctx context.Context, companyID string) ([]models.User, error) {
	return Query(ctx, s, TableUsers, companyID, func(u models.User) bool {
		return u.Active && u.CanApprove
	})
}

// ReferenceCounts returns the number of cached records per reference table for a company.
func (s *Store) ReferenceCounts(ctx context.Context, companyID string) (map[string]int, error) {
	counts := make(map[string]int, len(models.ReferenceEntities))
	for _, table := range models.ReferenceEntities {
		n, err := Count[rawRecord](ctx, s, table, companyID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// rawRecord decodes any JSON object; used where only the row count matters.
type rawRecord map[string]interface{}
