package registration

import "context"

// Store persists issued numbers keyed by event.
//
// Create returns sentinel.ErrAlreadyUsed when the event already has a number
// and sentinel.ErrConflict when the number is held by another event.
type Store interface {
	Get(ctx context.Context, eventID string) (*Registration, error)
	Create(ctx context.Context, reg *Registration) error
}
