package notification

import "time"

// Notification tells the outside world that an action was confirmed.
type Notification struct {
	EventID            string    `json:"eventId"`
	EventType          string    `json:"eventType"`
	TrackingID         string    `json:"trackingId"`
	ActionID           string    `json:"actionId"`
	ActionType         string    `json:"actionType"`
	TransactionID      string    `json:"transactionId"`
	RegistrationNumber string    `json:"registrationNumber,omitempty"`
	Recipient          Recipient `json:"recipient"`
	OccurredAt         time.Time `json:"occurredAt"`

	// Token is the caller's bearer token. Transports decide whether to use it.
	Token string `json:"-"`
}

// Recipient is the informant contact the notification is addressed to.
type Recipient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}
