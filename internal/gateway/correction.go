package gateway

import (
	"context"
	"errors"

	"confirmgate/internal/events"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/requestcontext"
)

const (
	ReasonCorrectionNotFound = "correction request not found"
	ReasonCorrectionResolved = "correction request already resolved"
)

// onResolveCorrection handles APPROVE_CORRECTION and REJECT_CORRECTION. A
// correction request is resolved at most once, whatever the transaction id.
func (s *Service) onResolveCorrection(ctx context.Context, req ConfirmRequest) (events.Decision, error) {
	a := req.Action
	if !hasCorrectionRequest(req.History, a.RequestID) {
		return events.Reject(ReasonCorrectionNotFound), nil
	}
	if resolvedInHistory(req.History, a) {
		return events.Reject(ReasonCorrectionResolved), nil
	}

	res := &CorrectionResolution{
		EventID:       req.EventID,
		RequestID:     a.RequestID,
		ActionID:      a.ID,
		TransactionID: a.TransactionID,
		Resolution:    a.Type,
		Reason:        a.Reason,
		ResolvedAt:    requestcontext.Now(ctx),
	}
	err := s.corrections.Resolve(ctx, res)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		existing, getErr := s.corrections.Get(ctx, req.EventID, a.RequestID)
		if getErr != nil {
			return events.Decision{}, dErrors.Wrap(getErr, dErrors.CodeInternal, "correction lookup failed")
		}
		// Only the same action under the same transaction is a retry of a
		// write whose ledger entry failed.
		if !existing.sameAction(res) {
			return events.Reject(ReasonCorrectionResolved), nil
		}
	default:
		return events.Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "correction store failed")
	}

	s.logger.InfoContext(ctx, "correction request resolved",
		"event_id", req.EventID,
		"request_id", a.RequestID,
		"action_id", a.ID,
		"resolution", string(a.Type),
	)
	return events.Accept(nil), nil
}

// hasCorrectionRequest reports whether history holds a live correction
// request with id requestID.
func hasCorrectionRequest(history []events.Action, requestID string) bool {
	for _, a := range history {
		if a.Type == events.ActionRequestCorrection && a.ID == requestID {
			return a.Status != events.StatusRejected
		}
	}
	return false
}

// resolvedInHistory reports whether another accepted action already
// approved or rejected the request pending refers to.
func resolvedInHistory(history []events.Action, pending events.Action) bool {
	for _, a := range history {
		if a.ID == pending.ID || a.RequestID != pending.RequestID || a.Status != events.StatusAccepted {
			continue
		}
		if a.Type == events.ActionApproveCorrection || a.Type == events.ActionRejectCorrection {
			return true
		}
	}
	return false
}

func (r *CorrectionResolution) sameAction(other *CorrectionResolution) bool {
	return r.ActionID == other.ActionID &&
		r.Resolution == other.Resolution &&
		r.TransactionID == other.TransactionID
}
