package gateway

import (
	"context"
	"time"
)

// DeferredStore persists 202'd actions until they are resolved.
type DeferredStore interface {
	Create(ctx context.Context, d *DeferredAction) error
	Get(ctx context.Context, actionID string) (*DeferredAction, error)
	// Transition moves actionID from one status to another. It returns
	// sentinel.ErrInvalidState when the current status is not from.
	Transition(ctx context.Context, actionID string, from, to DeferredStatus, reason string, at time.Time) error
	ListPending(ctx context.Context, mode DeferMode, limit int) ([]*DeferredAction, error)
}

// CorrectionStore records correction resolutions.
type CorrectionStore interface {
	// Resolve inserts r unless (EventID, RequestID) is already resolved, in
	// which case it returns sentinel.ErrAlreadyUsed.
	Resolve(ctx context.Context, r *CorrectionResolution) error
	Get(ctx context.Context, eventID, requestID string) (*CorrectionResolution, error)
	ListByEvent(ctx context.Context, eventID string) ([]CorrectionResolution, error)
}

// JournalStore is the append-only action journal.
type JournalStore interface {
	Append(ctx context.Context, e JournalEntry) error
	ListByEvent(ctx context.Context, eventID string) ([]JournalEntry, error)
}
