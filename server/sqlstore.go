// ABOUTME: Relational store for the reference gateway on database/sql with SQLite
// ABOUTME: Rows come back as column maps; every statement runs in its own transaction
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// firstServerID is the id assigned to the first accepted order.
const firstServerID = 501

const schema = `
CREATE TABLE IF NOT EXISTS reference_records (
	entity TEXT NOT NULL,
	company_id TEXT NOT NULL,
	record_key TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (entity, company_id, record_key)
);

CREATE TABLE IF NOT EXISTS orders (
	server_id INTEGER PRIMARY KEY AUTOINCREMENT,
	local_id TEXT NOT NULL UNIQUE,
	company_id TEXT NOT NULL,
	seller_id TEXT NOT NULL,
	origin TEXT NOT NULL,
	lead_id TEXT,
	approval_id TEXT,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_company_id ON orders(company_id);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	approver_id TEXT NOT NULL,
	requester_id TEXT NOT NULL,
	justification TEXT NOT NULL,
	violations TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	responder_id TEXT,
	response_justification TEXT,
	responded_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approvals_approver ON approvals(approver_id, status);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	user_name TEXT,
	company_id TEXT NOT NULL,
	role TEXT NOT NULL,
	seller_code TEXT
);
`

// Row is one result row keyed by column name.
type Row map[string]interface{}

// String returns a text column, or "" when it is NULL or missing.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int64 returns an integer column, or 0 when it is NULL or missing.
func (r Row) Int64(col string) int64 {
	if v, ok := r[col].(int64); ok {
		return v
	}
	return 0
}

// Time returns a DATETIME column, or nil when it is NULL or unparseable.
func (r Row) Time(col string) *time.Time {
	switch v := r[col].(type) {
	case time.Time:
		t := v.UTC()
		return &t
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// SQLStore is the gateway's relational store.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the SQLite database at path. Use
// ":memory:" for a throwaway database.
func OpenSQL(path string) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		dsn = path + "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	// Start server ids at firstServerID on a fresh database.
	_, err := db.Exec(`
		INSERT INTO sqlite_sequence (name, seq)
		SELECT 'orders', ? WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'orders')
	`, firstServerID-1)
	return err
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ExecuteQuery runs a query and returns every row.
func (s *SQLStore) ExecuteQuery(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ExecuteOne returns the first row of a query, or nil when there is none.
func (s *SQLStore) ExecuteOne(ctx context.Context, query string, args ...interface{}) (Row, error) {
	rows, err := s.ExecuteQuery(ctx, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Exec runs a statement and returns the number of affected rows.
func (s *SQLStore) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
