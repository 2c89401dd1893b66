package verification

// Outcome is the per-role verification result merged into a REGISTER accept.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// VerifyRequest is one identity check sent to the provider.
type VerifyRequest struct {
	TransactionID string `json:"transactionId"`
	DOB           string `json:"dob"`
	NID           string `json:"nid"`
	Name          string `json:"name"`
	Gender        string `json:"gender,omitempty"`
}

// RegisterRequest forwards a registration to the provider.
type RegisterRequest struct {
	TrackingID    string            `json:"trackingId"`
	RequestFields map[string]any    `json:"requestFields"`
	Notification  map[string]string `json:"notification"`
	MetaInfo      map[string]any    `json:"metaInfo"`
	Audit         map[string]any    `json:"audit"`
}

// ResultKey is the response field carrying a role's outcome, e.g. "mother.verified".
func ResultKey(role string) string {
	return role + ".verified"
}
