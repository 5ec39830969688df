package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_runs (
	run_id     TEXT PRIMARY KEY,
	product_id TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_runs_product ON audit_runs (product_id, created_at);
`

// SQLiteStore is an append-only audit log in SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("audit: record has no run id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_runs (run_id, product_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		rec.RunID, rec.ProductID, string(rec.Payload), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("audit append %s: %w", rec.RunID, err)
	}
	return nil
}

// ByRun loads one persisted record. Used by review tooling and tests.
func (s *SQLiteStore) ByRun(ctx context.Context, runID string) (Record, error) {
	var rec Record
	var payload string
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, product_id, payload, created_at FROM audit_runs WHERE run_id = ?`, runID)
	if err := row.Scan(&rec.RunID, &rec.ProductID, &payload, &rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("audit load %s: %w", runID, err)
	}
	rec.Payload = []byte(payload)
	return rec, nil
}

// ByProduct returns the run history for one product, newest first.
func (s *SQLiteStore) ByProduct(ctx context.Context, productID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, product_id, payload, created_at FROM audit_runs
		 WHERE product_id = ? ORDER BY created_at DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit history %s: %w", productID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.RunID, &rec.ProductID, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit history %s: %w", productID, err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
