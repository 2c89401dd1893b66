package gateway

import (
	"context"
	"strings"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/notification"
	"confirmgate/pkg/requestcontext"
)

func notifiable(t events.ActionType) bool {
	switch t {
	case events.ActionDeclare, events.ActionNotify, events.ActionRegister,
		events.ActionApproveCorrection, events.ActionRejectCorrection:
		return true
	}
	return false
}

func newNotification(eventID string, eventType events.EventType, trackingID string, a events.Action, decl declaration.Declaration, registrationNumber string) notification.Notification {
	var r notification.Recipient
	if name, ok := decl.Name("informant.name"); ok {
		r.Name = name.Full()
	}
	r.Email, _ = decl.String("informant.email")
	r.Phone, _ = decl.String("informant.phoneNo")
	return notification.Notification{
		EventID:            eventID,
		EventType:          string(eventType),
		TrackingID:         trackingID,
		ActionID:           a.ID,
		ActionType:         string(a.Type),
		TransactionID:      a.TransactionID,
		RegistrationNumber: registrationNumber,
		Recipient:          r,
	}
}

// notify hands n to the dispatcher. It never blocks and never fails the caller.
func (s *Service) notify(ctx context.Context, n notification.Notification) {
	if s.notifier == nil {
		return
	}
	n.Token = requestcontext.Token(ctx)
	if !s.notifier.Notify(ctx, n) {
		s.logger.WarnContext(ctx, "notification not queued",
			"event_id", n.EventID,
			"action_id", n.ActionID,
		)
	}
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

func joinPaths(paths []string) string {
	return strings.Join(paths, ", ")
}
