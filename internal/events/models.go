// Package events holds the core's event and action vocabulary as seen by the
// confirmation gateway. The core owns these records; the gateway only reads them.
package events

import (
	"strings"

	"confirmgate/internal/declaration"
)

// ActionType enumerates lifecycle actions on an event.
type ActionType string

const (
	ActionCreate            ActionType = "CREATE"
	ActionDeclare           ActionType = "DECLARE"
	ActionNotify            ActionType = "NOTIFY"
	ActionRegister          ActionType = "REGISTER"
	ActionRequestCorrection ActionType = "REQUEST_CORRECTION"
	ActionApproveCorrection ActionType = "APPROVE_CORRECTION"
	ActionRejectCorrection  ActionType = "REJECT_CORRECTION"
	ActionCustom            ActionType = "CUSTOM"
)

var knownActions = []ActionType{
	ActionCreate,
	ActionDeclare,
	ActionNotify,
	ActionRegister,
	ActionRequestCorrection,
	ActionApproveCorrection,
	ActionRejectCorrection,
}

// Slug returns the kebab-case URL form, e.g. "request-correction".
func (t ActionType) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-")
}

// ActionTypeFromSlug maps a URL slug to its action type. Unrecognized slugs
// are CUSTOM actions.
func ActionTypeFromSlug(slug string) ActionType {
	for _, t := range knownActions {
		if t.Slug() == slug {
			return t
		}
	}
	return ActionCustom
}

// ParseActionType normalizes a wire value. Unknown types are CUSTOM.
func ParseActionType(s string) ActionType {
	upper := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range knownActions {
		if t == upper {
			return t
		}
	}
	return ActionCustom
}

// ActionStatus is the core-side status of an action.
type ActionStatus string

const (
	StatusAccepted  ActionStatus = "Accepted"
	StatusRejected  ActionStatus = "Rejected"
	StatusRequested ActionStatus = "Requested"
)

// IsTerminal reports whether no further transition is legal.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Action is one lifecycle step applied to an event.
type Action struct {
	ID                string                  `json:"id"`
	Type              ActionType              `json:"type"`
	Status            ActionStatus            `json:"status"`
	TransactionID     string                  `json:"transactionId"`
	CreatedAtLocation string                  `json:"createdAtLocation,omitempty"`
	Declaration       declaration.Declaration `json:"declaration,omitempty"`
	Annotation        map[string]any          `json:"annotation,omitempty"`
	RequestID         string                  `json:"requestId,omitempty"`
	Reason            string                  `json:"reason,omitempty"`
}

// EventType is the kind of registered fact, e.g. "birth" or "death".
type EventType string

const (
	EventBirth EventType = "birth"
	EventDeath EventType = "death"
)

// Event is the core's record the action applies to.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TrackingID string    `json:"trackingId"`
	Actions    []Action  `json:"actions"`
}

// FindAction returns the action with id from the history.
func (e Event) FindAction(id string) (Action, bool) {
	for _, a := range e.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// DecisionKind is the gateway's answer to a confirmation request.
type DecisionKind string

const (
	DecisionAccept DecisionKind = "accept"
	DecisionReject DecisionKind = "reject"
	DecisionDefer  DecisionKind = "defer"
)

// Decision carries the extra response fields for an accept, or the reason for a reject.
type Decision struct {
	Kind   DecisionKind
	Extra  map[string]any
	Reason string
}

func Accept(extra map[string]any) Decision {
	if extra == nil {
		extra = map[string]any{}
	}
	return Decision{Kind: DecisionAccept, Extra: extra}
}

func Reject(reason string) Decision {
	return Decision{Kind: DecisionReject, Reason: reason}
}

func Defer() Decision {
	return Decision{Kind: DecisionDefer}
}

// RegistrationNumber returns the issued number carried by an accept, if any.
func (d Decision) RegistrationNumber() string {
	if d.Extra == nil {
		return ""
	}
	n, _ := d.Extra["registrationNumber"].(string)
	return n
}
