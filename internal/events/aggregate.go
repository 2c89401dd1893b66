package events

import (
	"confirmgate/internal/declaration"
	dErrors "confirmgate/pkg/domain-errors"
)

// Aggregate folds the accepted actions of history, in the order given, into
// one declaration and then overlays the pending action on top. Later
// accepted actions win on key collision. Explicit clears remove a field from
// the result.
//
// Correction requests contribute nothing until an accepted APPROVE_CORRECTION
// applies the referenced request's declaration at the approval's position.
func Aggregate(history []Action, pending Action) (declaration.Declaration, error) {
	if len(history) == 0 {
		if pending.Type != ActionCreate {
			return nil, dErrors.New(dErrors.CodeValidation, "action history must start with CREATE")
		}
	} else if history[0].Type != ActionCreate {
		return nil, dErrors.New(dErrors.CodeValidation, "action history must start with CREATE")
	}

	requests := make(map[string]Action)
	for _, a := range history {
		if a.Type == ActionRequestCorrection {
			requests[a.ID] = a
		}
	}

	acc := declaration.Declaration{}
	apply := func(a Action) {
		switch a.Type {
		case ActionRequestCorrection, ActionRejectCorrection:
			return
		case ActionApproveCorrection:
			if req, ok := requests[a.RequestID]; ok {
				acc.Overlay(req.Declaration)
			}
		}
		acc.Overlay(a.Declaration)
	}

	for _, a := range history {
		if a.Status != StatusAccepted {
			continue
		}
		if a.ID != "" && a.ID == pending.ID {
			continue
		}
		apply(a)
	}
	apply(pending)
	return acc.Canonical(), nil
}
