package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/pkg/platform/sentinel"
)

// PostgresDeferredStore persists deferred actions in deferred_actions.
type PostgresDeferredStore struct {
	db *sql.DB
}

func NewPostgresDeferredStore(db *sql.DB) *PostgresDeferredStore {
	return &PostgresDeferredStore{db: db}
}

const deferredColumns = `action_id, event_id, event_type, tracking_id, action_type, transaction_id,
	created_at_location, mode, status, declaration, verification, reason, requested_by, token,
	created_at, resolved_at`

func (s *PostgresDeferredStore) Create(ctx context.Context, d *DeferredAction) error {
	decl, err := json.Marshal(d.Declaration)
	if err != nil {
		return fmt.Errorf("encode declaration: %w", err)
	}
	verification, err := json.Marshal(d.Verification)
	if err != nil {
		return fmt.Errorf("encode verification: %w", err)
	}
	query := `
		INSERT INTO deferred_actions (` + deferredColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL)
		ON CONFLICT (action_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		d.ActionID, d.EventID, string(d.EventType), d.TrackingID, string(d.ActionType), d.TransactionID,
		d.CreatedAtLocation, string(d.Mode), string(d.Status), string(decl), string(verification), d.Reason, d.RequestedBy, d.Token,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert deferred action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert deferred action: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresDeferredStore) Get(ctx context.Context, actionID string) (*DeferredAction, error) {
	query := `SELECT ` + deferredColumns + ` FROM deferred_actions WHERE action_id = $1`
	d, err := scanDeferred(s.db.QueryRowContext(ctx, query, actionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get deferred action: %w", err)
	}
	return d, nil
}

func (s *PostgresDeferredStore) Transition(ctx context.Context, actionID string, from, to DeferredStatus, reason string, at time.Time) error {
	var resolvedAt *time.Time
	if to == DeferredAccepted || to == DeferredRejected {
		resolvedAt = &at
	}
	query := `
		UPDATE deferred_actions
		SET status = $3, reason = COALESCE(NULLIF($4, ''), reason), resolved_at = $5
		WHERE action_id = $1 AND status = $2
	`
	res, err := s.db.ExecContext(ctx, query, actionID, string(from), string(to), reason, resolvedAt)
	if err != nil {
		return fmt.Errorf("transition deferred action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition deferred action: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, actionID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresDeferredStore) ListPending(ctx context.Context, mode DeferMode, limit int) ([]*DeferredAction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + deferredColumns + `
		FROM deferred_actions
		WHERE status = 'pending' AND mode = $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deferred actions: %w", err)
	}
	defer rows.Close()

	var out []*DeferredAction
	for rows.Next() {
		d, err := scanDeferred(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deferred action: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deferred actions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeferred(row rowScanner) (*DeferredAction, error) {
	var (
		d                                   DeferredAction
		eventType, actionType, mode, status string
		decl, verification                  []byte
		resolvedAt                          sql.NullTime
	)
	err := row.Scan(
		&d.ActionID, &d.EventID, &eventType, &d.TrackingID, &actionType, &d.TransactionID,
		&d.CreatedAtLocation, &mode, &status, &decl, &verification, &d.Reason, &d.RequestedBy, &d.Token,
		&d.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	d.EventType = events.EventType(eventType)
	d.ActionType = events.ActionType(actionType)
	d.Mode = DeferMode(mode)
	d.Status = DeferredStatus(status)
	d.Declaration = declaration.Declaration{}
	if len(decl) > 0 {
		if err := json.Unmarshal(decl, &d.Declaration); err != nil {
			return nil, fmt.Errorf("decode declaration: %w", err)
		}
	}
	if len(verification) > 0 && string(verification) != "null" {
		if err := json.Unmarshal(verification, &d.Verification); err != nil {
			return nil, fmt.Errorf("decode verification: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

// PostgresCorrectionStore persists correction resolutions keyed by
// (event_id, request_id).
type PostgresCorrectionStore struct {
	db *sql.DB
}

func NewPostgresCorrectionStore(db *sql.DB) *PostgresCorrectionStore {
	return &PostgresCorrectionStore{db: db}
}

func (s *PostgresCorrectionStore) Resolve(ctx context.Context, r *CorrectionResolution) error {
	query := `
		INSERT INTO correction_resolutions (event_id, request_id, action_id, transaction_id, resolution, reason, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, request_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, r.EventID, r.RequestID, r.ActionID, r.TransactionID, string(r.Resolution), r.Reason, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert correction resolution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert correction resolution: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresCorrectionStore) Get(ctx context.Context, eventID, requestID string) (*CorrectionResolution, error) {
	query := `
		SELECT event_id, request_id, action_id, transaction_id, resolution, reason, resolved_at
		FROM correction_resolutions
		WHERE event_id = $1 AND request_id = $2
	`
	r, err := scanResolution(s.db.QueryRowContext(ctx, query, eventID, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get correction resolution: %w", err)
	}
	return r, nil
}

func (s *PostgresCorrectionStore) ListByEvent(ctx context.Context, eventID string) ([]CorrectionResolution, error) {
	query := `
		SELECT event_id, request_id, action_id, transaction_id, resolution, reason, resolved_at
		FROM correction_resolutions
		WHERE event_id = $1
		ORDER BY resolved_at
	`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list correction resolutions: %w", err)
	}
	defer rows.Close()

	out := []CorrectionResolution{}
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan correction resolution: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanResolution(row rowScanner) (*CorrectionResolution, error) {
	var r CorrectionResolution
	var resolution string
	if err := row.Scan(&r.EventID, &r.RequestID, &r.ActionID, &r.TransactionID, &resolution, &r.Reason, &r.ResolvedAt); err != nil {
		return nil, err
	}
	r.Resolution = events.ActionType(resolution)
	return &r, nil
}

// PostgresJournalStore appends to action_journal.
type PostgresJournalStore struct {
	db *sql.DB
}

func NewPostgresJournalStore(db *sql.DB) *PostgresJournalStore {
	return &PostgresJournalStore{db: db}
}

func (s *PostgresJournalStore) Append(ctx context.Context, e JournalEntry) error {
	query := `
		INSERT INTO action_journal (event_id, action_id, action_type, transaction_id, status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, e.EventID, e.ActionID, string(e.ActionType), e.TransactionID, string(e.Status), e.Reason, e.At)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (s *PostgresJournalStore) ListByEvent(ctx context.Context, eventID string) ([]JournalEntry, error) {
	query := `
		SELECT event_id, action_id, action_type, transaction_id, status, reason, at
		FROM action_journal
		WHERE event_id = $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	out := []JournalEntry{}
	for rows.Next() {
		var e JournalEntry
		var actionType, status string
		if err := rows.Scan(&e.EventID, &e.ActionID, &actionType, &e.TransactionID, &status, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.ActionType = events.ActionType(actionType)
		e.Status = events.ActionStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
