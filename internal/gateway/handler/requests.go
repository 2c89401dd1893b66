package handler

import (
	"strings"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/gateway"
	dErrors "confirmgate/pkg/domain-errors"
)

// ConfirmRequest is the webhook body for POST /events/{eventId}/{action}.
type ConfirmRequest struct {
	EventID           string                  `json:"eventId"`
	EventType         string                  `json:"eventType"`
	TrackingID        string                  `json:"trackingId"`
	ActionID          string                  `json:"actionId"`
	TransactionID     string                  `json:"transactionId"`
	Type              string                  `json:"type"`
	Declaration       declaration.Declaration `json:"declaration"`
	Annotation        map[string]any          `json:"annotation"`
	CreatedAtLocation string                  `json:"createdAtLocation"`
	RequestID         string                  `json:"requestId"`
	Reason            string                  `json:"reason"`
	Actions           []events.Action         `json:"actions"`

	actionType events.ActionType
}

func (r *ConfirmRequest) Normalize() {
	r.EventID = strings.TrimSpace(r.EventID)
	r.EventType = strings.ToLower(strings.TrimSpace(r.EventType))
	r.TrackingID = strings.TrimSpace(r.TrackingID)
	r.ActionID = strings.TrimSpace(r.ActionID)
	r.TransactionID = strings.TrimSpace(r.TransactionID)
	r.RequestID = strings.TrimSpace(r.RequestID)
}

// Bind checks the body against the route and resolves the action type.
// An empty body eventId takes the path value.
func (r *ConfirmRequest) Bind(pathEventID, slug string) error {
	if r.EventID == "" {
		r.EventID = pathEventID
	}
	if r.EventID != pathEventID {
		return dErrors.New(dErrors.CodeValidation, "eventId does not match the path")
	}
	r.actionType = events.ActionTypeFromSlug(slug)
	if r.Type != "" && events.ParseActionType(r.Type) != r.actionType {
		return dErrors.New(dErrors.CodeValidation, "type does not match the path")
	}
	return nil
}

// ToDomain builds the gateway request. payload is the raw body.
func (r *ConfirmRequest) ToDomain(payload []byte) gateway.ConfirmRequest {
	return gateway.ConfirmRequest{
		EventID:    r.EventID,
		EventType:  events.EventType(r.EventType),
		TrackingID: r.TrackingID,
		Action: events.Action{
			ID:                r.ActionID,
			Type:              r.actionType,
			Status:            events.StatusRequested,
			TransactionID:     r.TransactionID,
			CreatedAtLocation: r.CreatedAtLocation,
			Declaration:       r.Declaration,
			Annotation:        r.Annotation,
			RequestID:         r.RequestID,
			Reason:            r.Reason,
		},
		History: r.Actions,
		Payload: payload,
	}
}

// RejectRequest is the body for POST /deferred/{actionId}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *RejectRequest) Validate() error {
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > 1024 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 1024 characters")
	}
	return nil
}
