package gateway

import (
	"context"
	"errors"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/registration"
	"confirmgate/internal/verification"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/requestcontext"
)

// ReasonAlreadyRegistered rejects a REGISTER for an event another
// transaction already registered.
const ReasonAlreadyRegistered = "event already registered"

func (s *Service) onRegister(ctx context.Context, snap *Snapshot, req ConfirmRequest, decl declaration.Declaration) (events.Decision, error) {
	policy := snap.Policy(req.EventType)
	extra := map[string]any{}

	// A registration held by another transaction is refused before any
	// identity is sent to the provider.
	switch reg, err := s.issuer.Lookup(ctx, req.EventID); {
	case err == nil && reg.TransactionID != req.Action.TransactionID:
		s.logger.WarnContext(ctx, "register refused, event already registered",
			"event_id", req.EventID,
			"transaction_id", req.Action.TransactionID,
		)
		return events.Reject(ReasonAlreadyRegistered), nil
	case err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound):
		return events.Decision{}, err
	}

	var outcomes map[string]verification.Outcome
	if s.verifier != nil {
		outcomes = s.verifier.MaybeForward(ctx, verification.ForwardRequest{
			EventID:     req.EventID,
			EventType:   string(req.EventType),
			TrackingID:  req.TrackingID,
			Roles:       policy.Roles,
			Policy:      policy.Verify,
			Declaration: decl,
		})
	}
	for role, outcome := range outcomes {
		extra[verification.ResultKey(role)] = string(outcome)
	}

	if mode := s.deferMode(ctx, policy, req, decl); mode != "" {
		if err := s.createDeferred(ctx, req, decl, mode, outcomes); err != nil {
			return events.Decision{}, err
		}
		return events.Defer(), nil
	}

	number, err := s.issuer.Issue(ctx, req.EventID, req.TrackingID, req.Action.TransactionID)
	if err != nil {
		if errors.Is(err, registration.ErrAlreadyRegistered) {
			s.logger.WarnContext(ctx, "register refused, event already registered",
				"event_id", req.EventID,
				"transaction_id", req.Action.TransactionID,
			)
			return events.Reject(ReasonAlreadyRegistered), nil
		}
		return events.Decision{}, err
	}
	extra["registrationNumber"] = number
	return events.Accept(extra), nil
}

// deferMode picks forward when the registration must go through the
// provider first, manual when an operator must decide, or "" to answer now.
func (s *Service) deferMode(ctx context.Context, policy EventPolicy, req ConfirmRequest, decl declaration.Declaration) DeferMode {
	input := decl.ToMap()
	holds := func(name string, p *verification.Policy) bool {
		if p == nil {
			return false
		}
		ok, err := p.Holds(string(req.EventType), req.TrackingID, input)
		if err != nil {
			s.logger.ErrorContext(ctx, "policy evaluation failed",
				"event_id", req.EventID,
				"policy", name,
				"expression", p.Expression(),
				"error", err,
			)
			return false
		}
		return ok
	}
	if s.verifier != nil && holds("forward_when", policy.Forward) {
		return DeferForward
	}
	if holds("defer_when", policy.Defer) {
		return DeferManual
	}
	return ""
}

func (s *Service) createDeferred(ctx context.Context, req ConfirmRequest, decl declaration.Declaration, mode DeferMode, outcomes map[string]verification.Outcome) error {
	var results map[string]string
	if len(outcomes) > 0 {
		results = make(map[string]string, len(outcomes))
		for role, o := range outcomes {
			results[role] = string(o)
		}
	}
	d := &DeferredAction{
		ActionID:          req.Action.ID,
		EventID:           req.EventID,
		EventType:         req.EventType,
		TrackingID:        req.TrackingID,
		ActionType:        req.Action.Type,
		TransactionID:     req.Action.TransactionID,
		CreatedAtLocation: req.Action.CreatedAtLocation,
		Mode:              mode,
		Status:            DeferredPending,
		Declaration:       decl,
		Verification:      results,
		RequestedBy:       requestcontext.Subject(ctx),
		CreatedAt:         requestcontext.Now(ctx),
		Token:             requestcontext.Token(ctx),
	}
	err := s.deferred.Create(ctx, d)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		// An earlier delivery of this action already deferred it.
		return nil
	default:
		return err
	}

	s.logger.InfoContext(ctx, "registration deferred",
		"event_id", req.EventID,
		"action_id", req.Action.ID,
		"transaction_id", req.Action.TransactionID,
		"mode", string(mode),
	)
	if mode == DeferForward {
		select {
		case s.forwards <- d.ActionID:
		default:
			// The worker's periodic scan picks it up.
		}
	}
	return nil
}
