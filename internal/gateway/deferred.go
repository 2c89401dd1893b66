package gateway

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"confirmgate/internal/core"
	"confirmgate/internal/events"
	"confirmgate/internal/registration"
	"confirmgate/internal/verification"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/requestcontext"
)

// ResolveDeferred accepts or rejects a deferred action on an operator's
// behalf and reports the outcome to the core.
func (s *Service) ResolveDeferred(ctx context.Context, actionID string, accept bool, reason string) (*DeferredAction, error) {
	if actionID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "actionId is required")
	}
	if !accept && trimmed(reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if s.core == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "core callback is not configured")
	}

	d, err := s.claimDeferred(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, d, accept, trimmed(reason))
}

// ForwardDeferred sends a forward-mode deferral to the provider and then
// resolves it. Provider failures are logged and do not block acceptance.
// An action that is no longer pending is skipped.
func (s *Service) ForwardDeferred(ctx context.Context, actionID string) error {
	if s.core == nil || s.verifier == nil {
		return dErrors.New(dErrors.CodeUnavailable, "registration forwarding is not configured")
	}
	d, err := s.claimDeferred(ctx, actionID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil
		}
		return err
	}
	if d.Mode != DeferForward {
		s.releaseDeferred(ctx, d)
		return nil
	}

	cbCtx := requestcontext.WithToken(ctx, d.Token)
	req := verification.BuildRegisterRequest(verification.RegisterInput{
		EventID:           d.EventID,
		EventType:         string(d.EventType),
		TrackingID:        d.TrackingID,
		ActionID:          d.ActionID,
		TransactionID:     d.TransactionID,
		CreatedAtLocation: d.CreatedAtLocation,
		Declaration:       d.Declaration,
		RequestedAt:       d.CreatedAt,
		RequestedBy:       d.RequestedBy,
	})
	if err := s.verifier.Forward(cbCtx, req); err != nil {
		s.logger.ErrorContext(ctx, "registration forward failed, accepting without provider",
			"event_id", d.EventID,
			"action_id", d.ActionID,
			"category", string(verification.CategoryOf(err)),
			"error", err,
		)
	}
	_, err = s.complete(ctx, d, true, "")
	return err
}

func (s *Service) claimDeferred(ctx context.Context, actionID string) (*DeferredAction, error) {
	d, err := s.deferred.Get(ctx, actionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "deferred action not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "deferred store failed")
	}
	err = s.deferred.Transition(ctx, actionID, DeferredPending, DeferredResolving, "", requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "deferred action already resolved")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "deferred store failed")
	}
	d.Status = DeferredResolving
	return d, nil
}

func (s *Service) releaseDeferred(ctx context.Context, d *DeferredAction) {
	if err := s.deferred.Transition(ctx, d.ActionID, DeferredResolving, DeferredPending, "", requestcontext.Now(ctx)); err != nil {
		s.logger.ErrorContext(ctx, "failed to release deferred action",
			"action_id", d.ActionID,
			"error", err,
		)
	}
}

// complete resolves a claimed deferral at the core. REGISTER accepts issue
// the registration number first; if another transaction registered the
// event meanwhile the action is rejected instead.
func (s *Service) complete(ctx context.Context, d *DeferredAction, accept bool, reason string) (*DeferredAction, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.ResolveDeferred", trace.WithAttributes(
		attribute.String("event.id", d.EventID),
		attribute.String("action.id", d.ActionID),
		attribute.Bool("accept", accept),
	))
	defer span.End()

	cbCtx := requestcontext.WithToken(ctx, d.Token)
	ref := core.ActionRef{EventID: d.EventID, ActionID: d.ActionID, ActionType: d.ActionType.Slug()}

	var number string
	if accept && d.ActionType == events.ActionRegister {
		n, err := s.issuer.Issue(ctx, d.EventID, d.TrackingID, d.TransactionID)
		switch {
		case err == nil:
			number = n
		case errors.Is(err, registration.ErrAlreadyRegistered):
			accept, reason = false, ReasonAlreadyRegistered
		default:
			s.releaseDeferred(ctx, d)
			span.RecordError(err)
			return nil, err
		}
	}

	var err error
	if accept {
		extra := make(map[string]any, len(d.Verification)+1)
		for role, outcome := range d.Verification {
			extra[verification.ResultKey(role)] = outcome
		}
		if number != "" {
			extra["registrationNumber"] = number
		}
		err = s.core.Accept(cbCtx, ref, extra)
	} else {
		err = s.core.Reject(cbCtx, ref, reason)
	}
	if err != nil {
		s.releaseDeferred(ctx, d)
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "core callback failed",
			"event_id", d.EventID,
			"action_id", d.ActionID,
			"accept", accept,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "core callback failed")
	}

	to, status := DeferredAccepted, events.StatusAccepted
	if !accept {
		to, status = DeferredRejected, events.StatusRejected
	}
	now := requestcontext.Now(ctx)
	if err := s.deferred.Transition(ctx, d.ActionID, DeferredResolving, to, reason, now); err != nil {
		s.logger.ErrorContext(ctx, "deferred action resolved at core but not in store",
			"action_id", d.ActionID,
			"error", err,
		)
	}
	d.Status = to
	d.Reason = reason
	d.ResolvedAt = &now

	s.appendJournal(ctx, JournalEntry{
		EventID:       d.EventID,
		ActionID:      d.ActionID,
		ActionType:    d.ActionType,
		TransactionID: d.TransactionID,
		Status:        status,
		Reason:        reason,
		At:            now,
	})
	if accept && notifiable(d.ActionType) {
		a := events.Action{ID: d.ActionID, Type: d.ActionType, TransactionID: d.TransactionID}
		s.notify(cbCtx, newNotification(d.EventID, d.EventType, d.TrackingID, a, d.Declaration, number))
	}
	s.metrics.IncDeferredResolution(string(to))
	s.logger.InfoContext(ctx, "deferred action resolved",
		"event_id", d.EventID,
		"action_id", d.ActionID,
		"transaction_id", d.TransactionID,
		"status", string(to),
	)
	return d, nil
}
