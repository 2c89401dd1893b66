//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

package ports

import (
	"context"

	"confirmgate/internal/core"
	"confirmgate/internal/idempotency"
	"confirmgate/internal/notification"
	"confirmgate/internal/registration"
	"confirmgate/internal/verification"
)

// Ledger runs a confirmation at most once per transaction id.
type Ledger interface {
	Execute(ctx context.Context, key idempotency.Key, fn func(context.Context) (idempotency.Result, error)) (*idempotency.Outcome, error)
}

// Verifier forwards identity triples and registrations to the national ID provider.
type Verifier interface {
	MaybeForward(ctx context.Context, req verification.ForwardRequest) map[string]verification.Outcome
	Forward(ctx context.Context, req verification.RegisterRequest) error
}

// Issuer hands out registration numbers.
type Issuer interface {
	Issue(ctx context.Context, eventID, trackingID, transactionID string) (string, error)
	Lookup(ctx context.Context, eventID string) (*registration.Registration, error)
}

// Notifier queues a notification without blocking.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) bool
}

// Core resolves deferred actions at the registration core.
type Core interface {
	Accept(ctx context.Context, ref core.ActionRef, extra map[string]any) error
	Reject(ctx context.Context, ref core.ActionRef, reason string) error
}
