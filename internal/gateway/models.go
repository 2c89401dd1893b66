package gateway

import (
	"time"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
)

// ConfirmRequest is one action confirmation delivered by the core.
type ConfirmRequest struct {
	EventID    string
	EventType  events.EventType
	TrackingID string
	Action     events.Action
	History    []events.Action
	// Payload is the raw request body, fingerprinted by the ledger.
	Payload []byte
}

// Response is the exact HTTP answer for a confirmation.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// DeferMode says who resolves a deferred action.
type DeferMode string

const (
	// DeferForward actions are resolved by the worker after forwarding to the provider.
	DeferForward DeferMode = "forward"
	// DeferManual actions wait for an operator.
	DeferManual DeferMode = "manual"
)

// DeferredStatus is the resolution state of a deferred action.
type DeferredStatus string

const (
	DeferredPending   DeferredStatus = "pending"
	DeferredResolving DeferredStatus = "resolving"
	DeferredAccepted  DeferredStatus = "accepted"
	DeferredRejected  DeferredStatus = "rejected"
)

// DeferredAction is a confirmation answered with 202 and resolved later
// through the core's accept/reject mutations.
type DeferredAction struct {
	ActionID          string                  `json:"actionId"`
	EventID           string                  `json:"eventId"`
	EventType         events.EventType        `json:"eventType"`
	TrackingID        string                  `json:"trackingId"`
	ActionType        events.ActionType       `json:"actionType"`
	TransactionID     string                  `json:"transactionId"`
	CreatedAtLocation string                  `json:"createdAtLocation,omitempty"`
	Mode              DeferMode               `json:"mode"`
	Status            DeferredStatus          `json:"status"`
	Declaration       declaration.Declaration `json:"declaration"`
	Verification      map[string]string       `json:"verification,omitempty"`
	Reason            string                  `json:"reason,omitempty"`
	RequestedBy       string                  `json:"requestedBy,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	ResolvedAt        *time.Time              `json:"resolvedAt,omitempty"`

	// Token is the caller's bearer token, replayed on the core callback.
	Token string `json:"-"`
}

// CorrectionResolution records how a correction request was closed.
type CorrectionResolution struct {
	EventID       string            `json:"eventId"`
	RequestID     string            `json:"requestId"`
	ActionID      string            `json:"actionId"`
	TransactionID string            `json:"transactionId"`
	Resolution    events.ActionType `json:"resolution"`
	Reason        string            `json:"reason,omitempty"`
	ResolvedAt    time.Time         `json:"resolvedAt"`
}

// JournalEntry is one status transition the gateway observed for an action.
type JournalEntry struct {
	EventID       string              `json:"eventId"`
	ActionID      string              `json:"actionId"`
	ActionType    events.ActionType   `json:"type"`
	TransactionID string              `json:"transactionId"`
	Status        events.ActionStatus `json:"status"`
	Reason        string              `json:"reason,omitempty"`
	At            time.Time           `json:"at"`
}

// Journal is the gateway's view of an event.
type Journal struct {
	EventID     string                 `json:"eventId"`
	Actions     []JournalEntry         `json:"actions"`
	Corrections []CorrectionResolution `json:"corrections"`
}
