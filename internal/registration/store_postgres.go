package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/platform/tx"
)

// PostgresStore persists registrations. event_id is the primary key and
// number carries a unique index.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*Registration, error) {
	query := `
		SELECT event_id, transaction_id, number, issued_at
		FROM registrations
		WHERE event_id = $1
	`
	reg, err := scanRegistration(s.q(ctx).QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// Create checks the number and inserts the event row in one transaction.
func (s *PostgresStore) Create(ctx context.Context, reg *Registration) error {
	if reg == nil {
		return fmt.Errorf("registration is required")
	}
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		var holder string
		err := s.q(ctx).QueryRowContext(ctx, `SELECT event_id FROM registrations WHERE number = $1`, reg.Number).Scan(&holder)
		switch {
		case err == nil:
			return sentinel.ErrConflict
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check registration number: %w", err)
		}

		query := `
			INSERT INTO registrations (event_id, transaction_id, number, issued_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id) DO NOTHING
			RETURNING event_id
		`
		var inserted string
		err = s.q(ctx).QueryRowContext(ctx, query, reg.EventID, reg.TransactionID, reg.Number, reg.IssuedAt).Scan(&inserted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert registration: %w", err)
		}
		return nil
	})
}

func scanRegistration(row *sql.Row) (*Registration, error) {
	var reg Registration
	if err := row.Scan(&reg.EventID, &reg.TransactionID, &reg.Number, &reg.IssuedAt); err != nil {
		return nil, err
	}
	return &reg, nil
}
