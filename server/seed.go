// ABOUTME: Seeding of sessions and reference data into the gateway's SQLite store
// ABOUTME: Seeds load from a JSON file; DefaultSeed provides a small demo company
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harperreed/vendas/models"
)

// SeedSession is a session token with the identity it resolves to.
type SeedSession struct {
	Token string `json:"token"`
	models.Session
}

// Seed is the content of a seed file.
type Seed struct {
	Sessions  []SeedSession                `json:"sessions"`
	Reference map[string][]json.RawMessage `json:"reference"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("failed to read seed file: %w", err)
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("failed to decode seed file: %w", err)
	}
	return seed, nil
}

// ApplySeed upserts every session and reference record of seed.
func (s *SQLStore) ApplySeed(ctx context.Context, seed Seed) error {
	for _, sess := range seed.Sessions {
		if err := s.PutSession(ctx, sess.Token, sess.Session); err != nil {
			return err
		}
	}
	for entity, records := range seed.Reference {
		if _, err := s.PutReference(ctx, entity, records); err != nil {
			return err
		}
	}
	return nil
}

// PutSession registers or replaces a session token.
func (s *SQLStore) PutSession(ctx context.Context, token string, sess models.Session) error {
	if token == "" || sess.UserID == "" || sess.CompanyID == "" {
		return fmt.Errorf("%w: session needs token, user and company", models.ErrInvalidPayload)
	}
	_, err := s.Exec(ctx, `
		INSERT INTO sessions (token, user_id, user_name, company_id, role, seller_code)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			user_name = excluded.user_name,
			company_id = excluded.company_id,
			role = excluded.role,
			seller_code = excluded.seller_code
	`, token, sess.UserID, sess.UserName, sess.CompanyID, sess.Role, sess.SellerCode)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

type recordIdentity struct {
	Code      string `json:"code"`
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
}

// PutReference upserts raw reference records of one entity. Each record is
// keyed by its "code" field, or "id" for users.
func (s *SQLStore) PutReference(ctx context.Context, entity string, records []json.RawMessage) (int, error) {
	if !knownEntity(entity) {
		return 0, fmt.Errorf("%w: unknown entity %q", models.ErrInvalidPayload, entity)
	}
	for i, raw := range records {
		var ident recordIdentity
		if err := json.Unmarshal(raw, &ident); err != nil {
			return i, fmt.Errorf("%w: %s record %d: %v", models.ErrInvalidPayload, entity, i, err)
		}
		key := ident.Code
		if entity == models.EntityUsers {
			key = ident.ID
		}
		if key == "" || ident.CompanyID == "" {
			return i, fmt.Errorf("%w: %s record %d has no key or company", models.ErrInvalidPayload, entity, i)
		}

		_, err := s.Exec(ctx, `
			INSERT INTO reference_records (entity, company_id, record_key, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity, company_id, record_key) DO UPDATE SET
				data = excluded.data,
				updated_at = CURRENT_TIMESTAMP
		`, entity, ident.CompanyID, key, string(raw))
		if err != nil {
			return i, fmt.Errorf("failed to save %s %s: %w", entity, key, err)
		}
	}
	return len(records), nil
}

// DefaultSeed is a demo company "c1" with one seller, one manager, two
// partners, and a 15% discount ceiling.
func DefaultSeed() Seed {
	raw := func(items ...string) []json.RawMessage {
		out := make([]json.RawMessage, len(items))
		for i, item := range items {
			out[i] = json.RawMessage(item)
		}
		return out
	}

	return Seed{
		Sessions: []SeedSession{
			{Token: "dev-seller", Session: models.Session{UserID: "u-vend", UserName: "Vendedor", CompanyID: "c1", Role: "SELLER", SellerCode: "V01"}},
			{Token: "dev-manager", Session: models.Session{UserID: "u-mgr", UserName: "Gerente", CompanyID: "c1", Role: "MANAGER"}},
		},
		Reference: map[string][]json.RawMessage{
			models.EntityPartners: raw(
				`{"code":"PARC1","company_id":"c1","name":"Mercado Sol","state":"SP","credit_limit":"5000","ativo":true}`,
				`{"code":"PARC2","company_id":"c1","name":"Padaria Lua","state":"SP","credit_limit":"1000","ativo":true}`,
				`{"code":"PARC9","company_id":"c1","name":"Bar Fechado","credit_limit":"0","ativo":false}`,
			),
			models.EntityProducts: raw(
				`{"code":"P1","company_id":"c1","name":"Água mineral 500ml","group":"BEB","unit":"CX","ativo":true}`,
				`{"code":"P2","company_id":"c1","name":"Suco de uva 1L","group":"BEB","unit":"CX","ativo":true}`,
			),
			models.EntityPriceTables: raw(
				`{"code":"T1","company_id":"c1","name":"Tabela padrão","items":[{"product_code":"P1","price":"10"},{"product_code":"P2","price":"25"}],"ativo":true}`,
			),
			models.EntityTaxRules: raw(
				`{"code":"ICMS-SP","company_id":"c1","product_group":"BEB","state":"SP","rate":"18","ativo":true}`,
			),
			models.EntityPolicies: raw(
				`{"code":"DESC15","company_id":"c1","kind":"MAX_DISCOUNT","threshold":"15","description":"desconto máximo","ativo":true}`,
			),
			models.EntityRoutes: raw(
				`{"code":"R1","company_id":"c1","name":"Centro","seller_code":"V01","ativo":true}`,
			),
			models.EntityTeams: raw(
				`{"code":"EQ1","company_id":"c1","name":"Equipe Centro","leader_id":"u-mgr","members":["u-vend"],"ativo":true}`,
			),
			models.EntityUsers: raw(
				`{"id":"u-vend","company_id":"c1","name":"Vendedor","role":"SELLER","seller_code":"V01","ativo":true}`,
				`{"id":"u-mgr","company_id":"c1","name":"Gerente","role":"MANAGER","can_approve":true,"ativo":true}`,
			),
		},
	}
}
