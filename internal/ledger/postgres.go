package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore keeps every record in a single key/value table and
// implements the conditional write as a single UPDATE (or insert-if-absent)
// so the status check and the write are one atomic statement.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*PostgresStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_records (
			key        TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM ledger_records WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ledger get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) PutIfStatus(ctx context.Context, key, expectedStatus, newStatus string, value []byte) (bool, []byte, error) {
	if expectedStatus == StatusAbsent {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO ledger_records (key, status, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, key, newStatus, value)
		if err != nil {
			return false, nil, fmt.Errorf("ledger insert %s: %w", key, err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil, nil
		}
	} else {
		tag, err := s.pool.Exec(ctx, `
			UPDATE ledger_records
			SET status = $1, value = $2, updated_at = now()
			WHERE key = $3 AND status = $4
		`, newStatus, value, key, expectedStatus)
		if err != nil {
			return false, nil, fmt.Errorf("ledger conditional write %s: %w", key, err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil, nil
		}
	}

	current, _, err := s.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

func (s *PostgresStore) ListByPrefix(ctx context.Context, prefix string) ([]KV, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM ledger_records WHERE key LIKE $1 || '%'
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}
