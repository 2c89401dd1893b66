package handler

import (
	"time"

	"confirmgate/internal/gateway"
)

// DeferredResponse is the operator view of a deferred action.
type DeferredResponse struct {
	ActionID      string            `json:"actionId"`
	EventID       string            `json:"eventId"`
	ActionType    string            `json:"actionType"`
	TransactionID string            `json:"transactionId"`
	Mode          string            `json:"mode"`
	Status        string            `json:"status"`
	Verification  map[string]string `json:"verification,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}

func FromDeferred(d *gateway.DeferredAction) *DeferredResponse {
	return &DeferredResponse{
		ActionID:      d.ActionID,
		EventID:       d.EventID,
		ActionType:    string(d.ActionType),
		TransactionID: d.TransactionID,
		Mode:          string(d.Mode),
		Status:        string(d.Status),
		Verification:  d.Verification,
		Reason:        d.Reason,
		CreatedAt:     d.CreatedAt,
		ResolvedAt:    d.ResolvedAt,
	}
}

// reasonResponse is the 400 body the core reads the rejection reason from.
type reasonResponse struct {
	Reason string `json:"reason"`
}
