// Package registration issues one unique registration number per event.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"confirmgate/internal/platform/metrics"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/requestcontext"
)

// ErrAlreadyRegistered is returned when a different transaction already
// registered the event.
var ErrAlreadyRegistered = errors.New("event already registered")

// Issuer hands out registration numbers. The same (event, transaction) pair
// always gets the same number; a second transaction on a registered event is refused.
type Issuer struct {
	store     Store
	generator Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

func NewIssuer(store Store, generator Generator, opts ...Option) (*Issuer, error) {
	if store == nil {
		return nil, fmt.Errorf("registration store is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("number generator is required")
	}
	i := &Issuer{
		store:     store,
		generator: generator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue returns the registration number for eventID under transactionID.
func (i *Issuer) Issue(ctx context.Context, eventID, trackingID, transactionID string) (string, error) {
	if eventID == "" || transactionID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "eventId and transactionId are required to issue a registration number")
	}
	if number, err := i.existing(ctx, eventID, transactionID); err == nil {
		return number, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}

	number, err := i.generator.Generate(ctx, eventID, trackingID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "registration number generation failed")
	}
	reg := &Registration{
		EventID:       eventID,
		TransactionID: transactionID,
		Number:        number,
		IssuedAt:      requestcontext.Now(ctx),
	}
	err = i.store.Create(ctx, reg)
	switch {
	case err == nil:
		i.metrics.IncRegistrationIssued()
		i.logger.InfoContext(ctx, "registration number issued",
			"event_id", eventID,
			"transaction_id", transactionID,
		)
		return number, nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		// Lost a race with a concurrent issue for the same event.
		return i.existing(ctx, eventID, transactionID)
	case errors.Is(err, sentinel.ErrConflict):
		i.metrics.IncRegistrationCollision()
		i.logger.ErrorContext(ctx, "registration number collision",
			"event_id", eventID,
			"transaction_id", transactionID,
			"alert", true,
		)
		return "", dErrors.New(dErrors.CodeInternal, "registration number collision")
	default:
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "registration store failed")
	}
}

// Lookup returns the registration for eventID.
func (i *Issuer) Lookup(ctx context.Context, eventID string) (*Registration, error) {
	reg, err := i.store.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registration store failed")
	}
	return reg, nil
}

func (i *Issuer) existing(ctx context.Context, eventID, transactionID string) (string, error) {
	reg, err := i.store.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", err
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "registration store failed")
	}
	if reg.TransactionID != transactionID {
		return "", dErrors.Wrap(ErrAlreadyRegistered, dErrors.CodeConflict, "event already registered")
	}
	return reg.Number, nil
}
