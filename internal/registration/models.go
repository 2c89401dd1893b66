package registration

import "time"

// Registration binds an event to the number issued for it and the
// transaction that issued it.
type Registration struct {
	EventID       string
	TransactionID string
	Number        string
	IssuedAt      time.Time
}
