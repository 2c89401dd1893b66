package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"confirmgate/pkg/platform/sentinel"
)

// PostgresStore persists ledger records in PostgreSQL. Claims are rows with
// completed = FALSE; a crashed claimant's row is reclaimable once claimed_until passes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, transactionID string) (*Record, error) {
	query := `
		SELECT transaction_id, event_id, action_id, action_type, status_code, body, fingerprint, created_at
		FROM idempotency_ledger
		WHERE transaction_id = $1 AND completed
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return rec, nil
}

// Claim inserts an in-flight row, or takes over an expired one, atomically.
func (s *PostgresStore) Claim(ctx context.Context, transactionID string, now, until time.Time) (bool, error) {
	query := `
		INSERT INTO idempotency_ledger (transaction_id, claimed_until, created_at, completed)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (transaction_id) DO UPDATE SET
			claimed_until = EXCLUDED.claimed_until
		WHERE idempotency_ledger.completed = FALSE
			AND idempotency_ledger.claimed_until < $3
		RETURNING transaction_id
	`
	var id string
	err := s.db.QueryRowContext(ctx, query, transactionID, until, now).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim ledger record: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Complete(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("ledger record is required")
	}
	query := `
		UPDATE idempotency_ledger SET
			event_id = $2,
			action_id = $3,
			action_type = $4,
			status_code = $5,
			body = $6,
			fingerprint = $7,
			created_at = $8,
			completed = TRUE
		WHERE transaction_id = $1 AND completed = FALSE
	`
	res, err := s.db.ExecContext(ctx, query,
		record.TransactionID,
		record.EventID,
		record.ActionID,
		record.ActionType,
		record.Status,
		record.Body,
		record.Fingerprint,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("complete ledger record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete ledger record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_ledger WHERE transaction_id = $1 AND completed = FALSE`, transactionID)
	if err != nil {
		return fmt.Errorf("release ledger claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_ledger WHERE completed AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	return int(n), nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.TransactionID,
		&rec.EventID,
		&rec.ActionID,
		&rec.ActionType,
		&rec.Status,
		&rec.Body,
		&rec.Fingerprint,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
