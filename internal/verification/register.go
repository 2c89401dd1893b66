package verification

import (
	"time"

	"confirmgate/internal/declaration"
)

// RegisterInput describes the registration being forwarded.
type RegisterInput struct {
	EventID            string
	EventType          string
	TrackingID         string
	ActionID           string
	TransactionID      string
	CreatedAtLocation  string
	RegistrationNumber string
	Declaration        declaration.Declaration
	RequestedAt        time.Time
	RequestedBy        string
}

// BuildRegisterRequest shapes the provider's register payload. Contact
// details of the informant go into the notification block.
func BuildRegisterRequest(in RegisterInput) RegisterRequest {
	notification := map[string]string{}
	if email, ok := in.Declaration.String("informant.email"); ok && email != "" {
		notification["recipientEmail"] = email
	}
	if phone, ok := in.Declaration.String("informant.phoneNo"); ok && phone != "" {
		notification["recipientPhone"] = phone
	}
	if name, ok := in.Declaration.Name("informant.name"); ok && name.Full() != "" {
		notification["recipientFullName"] = name.Full()
	}

	meta := map[string]any{
		"eventId":       in.EventID,
		"eventType":     in.EventType,
		"transactionId": in.TransactionID,
	}
	if in.CreatedAtLocation != "" {
		meta["centerId"] = in.CreatedAtLocation
	}
	if in.RegistrationNumber != "" {
		meta["registrationNumber"] = in.RegistrationNumber
	}

	return RegisterRequest{
		TrackingID:    in.TrackingID,
		RequestFields: in.Declaration.ToMap(),
		Notification:  notification,
		MetaInfo:      meta,
		Audit: map[string]any{
			"actionId":    in.ActionID,
			"requestedAt": in.RequestedAt.UTC().Format(time.RFC3339),
			"requestedBy": in.RequestedBy,
		},
	}
}
