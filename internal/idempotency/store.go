package idempotency

import (
	"context"
	"time"
)

// Store persists ledger records and in-flight claims.
//
// Get returns sentinel.ErrNotFound unless a completed record exists.
// Claim is an atomic insert-if-absent of an in-flight marker that expires at
// until; it reports false when a record or a live claim already exists.
type Store interface {
	Get(ctx context.Context, transactionID string) (*Record, error)
	Claim(ctx context.Context, transactionID string, now, until time.Time) (bool, error)
	Complete(ctx context.Context, record *Record) error
	Release(ctx context.Context, transactionID string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
