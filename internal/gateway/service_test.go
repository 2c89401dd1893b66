package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/gateway/mocks"
	"confirmgate/internal/idempotency"
	"confirmgate/internal/notification"
	"confirmgate/internal/platform/config"
	"confirmgate/internal/registration"
	"confirmgate/internal/verification"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/requestcontext"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type staticRules struct {
	snap *Snapshot
}

func (r staticRules) Current() *Snapshot { return r.snap }

func compileRules(t *testing.T, mutate func(*config.RulesConfig)) staticRules {
	t.Helper()
	raw := config.DefaultRules()
	if mutate != nil {
		mutate(&raw)
	}
	snap, err := Compile(raw, 1)
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	return staticRules{snap: snap}
}

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	verifier *mocks.MockVerifier
	core     *mocks.MockCore
	deferred *InMemoryDeferredStore
	logger   *slog.Logger
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.core = mocks.NewMockCore(s.ctrl)
	s.deferred = NewInMemoryDeferredStore()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.ctx = requestcontext.WithToken(s.ctx, "core-token")
}

// SetupSubTest gives every s.Run its own deferred store, so the services a
// subtest builds never see another subtest's actions.
func (s *ServiceSuite) SetupSubTest() {
	s.deferred = NewInMemoryDeferredStore()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

// newService wires a real ledger and issuer over memory stores.
func (s *ServiceSuite) newService(rules Rules, opts ...Option) *Service {
	ledger, err := idempotency.New(idempotency.NewInMemoryStore(), idempotency.WithLogger(s.logger))
	s.Require().NoError(err)
	issuer, err := registration.NewIssuer(registration.NewInMemoryStore(), registration.TrackingGenerator{},
		registration.WithLogger(s.logger))
	s.Require().NoError(err)

	opts = append([]Option{
		WithLogger(s.logger),
		WithNotifier(s.notifier),
		WithCore(s.core),
		WithDeferredStore(s.deferred),
	}, opts...)
	svc, err := New(ledger, rules, issuer, opts...)
	s.Require().NoError(err)
	return svc
}

func birthHistory(decl declaration.Declaration) []events.Action {
	return []events.Action{
		{ID: "act-create", Type: events.ActionCreate, Status: events.StatusAccepted, TransactionID: "tx-create"},
		{ID: "act-declare", Type: events.ActionDeclare, Status: events.StatusAccepted, TransactionID: "tx-declare", Declaration: decl},
	}
}

func completeBirth() declaration.Declaration {
	return declaration.Declaration{
		"child.name":      declaration.Of(map[string]string{"firstname": "Ada", "surname": "Lovelace"}),
		"child.dob":       declaration.Of("2026-03-01"),
		"mother.name":     declaration.Of(map[string]string{"firstname": "Anne", "surname": "Byron"}),
		"mother.dob":      declaration.Of("1990-05-17"),
		"mother.nid":      declaration.Of("1234567890"),
		"informant.email": declaration.Of("anne@example.com"),
	}
}

func registerRequest(txID string, history []events.Action) ConfirmRequest {
	return ConfirmRequest{
		EventID:    "evt-1",
		EventType:  events.EventBirth,
		TrackingID: "trk1",
		Action:     events.Action{ID: "act-register", Type: events.ActionRegister, Status: events.StatusRequested, TransactionID: txID},
		History:    history,
		Payload:    []byte(`{"transactionId":"` + txID + `"}`),
	}
}

func decodeBody(s *ServiceSuite, body []byte) map[string]any {
	var out map[string]any
	s.Require().NoError(json.Unmarshal(body, &out))
	return out
}

func (s *ServiceSuite) TestNew() {
	rules := compileRules(s.T(), nil)
	ledger := mocks.NewMockLedger(s.ctrl)
	issuer := mocks.NewMockIssuer(s.ctrl)

	_, err := New(nil, rules, issuer)
	s.ErrorContains(err, "idempotency ledger is required")
	_, err = New(ledger, nil, issuer)
	s.ErrorContains(err, "rules are required")
	_, err = New(ledger, rules, nil)
	s.ErrorContains(err, "registration issuer is required")
}

func (s *ServiceSuite) TestNotifyDateValidation() {
	svc := s.newService(compileRules(s.T(), nil))
	history := birthHistory(nil)[:1]
	notify := func(dob string) ConfirmRequest {
		return ConfirmRequest{
			EventID:   "evt-1",
			EventType: events.EventBirth,
			Action: events.Action{
				ID: "act-notify", Type: events.ActionNotify, TransactionID: "tx-notify",
				Declaration: declaration.Declaration{"child.dob": declaration.Of(dob)},
			},
			History: history,
		}
	}

	s.Run("future date is rejected and not recorded", func() {
		resp, err := svc.Confirm(s.ctx, notify("2026-03-11"))
		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		body := decodeBody(s, resp.Body)
		s.Contains(body["reason"], "date must not be in the future")
		s.Len(body["fields"], 1)
	})

	s.Run("same transaction with a past date is accepted", func() {
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(1)

		resp, err := svc.Confirm(s.ctx, notify("2026-03-09"))
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.Status)
		s.False(resp.Replayed)

		journal, err := svc.Journal(s.ctx, "evt-1")
		s.Require().NoError(err)
		s.Require().Len(journal.Actions, 2)
		s.Equal(events.StatusRequested, journal.Actions[0].Status)
		s.Equal(events.StatusAccepted, journal.Actions[1].Status)
	})
}

func (s *ServiceSuite) TestPrepareRejectsMalformedRequests() {
	svc := s.newService(compileRules(s.T(), nil))
	base := func() ConfirmRequest {
		return ConfirmRequest{
			EventID:   "evt-1",
			EventType: events.EventBirth,
			Action:    events.Action{ID: "a1", Type: events.ActionDeclare, TransactionID: "tx-1"},
			History:   birthHistory(nil)[:1],
		}
	}
	tests := []struct {
		name   string
		mutate func(*ConfirmRequest)
		reason string
	}{
		{"missing transaction id", func(r *ConfirmRequest) { r.Action.TransactionID = "" }, "transactionId is required"},
		{"missing action id", func(r *ConfirmRequest) { r.Action.ID = "" }, "actionId is required"},
		{"history without create", func(r *ConfirmRequest) { r.History = nil }, "must start with CREATE"},
		{"unknown field", func(r *ConfirmRequest) {
			r.Action.Declaration = declaration.Declaration{"child.favouriteColour": declaration.Of("blue")}
		}, "unknown field"},
		{"approve without request id", func(r *ConfirmRequest) { r.Action.Type = events.ActionApproveCorrection }, "requestId is required"},
		{"reject correction without reason", func(r *ConfirmRequest) {
			r.Action.Type = events.ActionRejectCorrection
			r.Action.RequestID = "req-1"
			r.Action.Reason = "  "
		}, "reason is required"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := base()
			tt.mutate(&req)
			resp, err := svc.Confirm(s.ctx, req)
			s.Require().NoError(err)
			s.Equal(http.StatusBadRequest, resp.Status)
			s.Contains(decodeBody(s, resp.Body)["reason"], tt.reason)
		})
	}
}

func (s *ServiceSuite) TestRegister() {
	s.Run("issues a number and replays the same answer", func() {
		svc := s.newService(compileRules(s.T(), nil))
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(1)
		req := registerRequest("tx-reg", birthHistory(completeBirth()))

		first, err := svc.Confirm(s.ctx, req)
		s.Require().NoError(err)
		second, err := svc.Confirm(s.ctx, req)
		s.Require().NoError(err)

		s.Equal(http.StatusOK, first.Status)
		s.Equal("2026TRK1", decodeBody(s, first.Body)["registrationNumber"])
		s.Equal(first.Status, second.Status)
		s.JSONEq(string(first.Body), string(second.Body))
		s.True(second.Replayed)
	})

	s.Run("a second transaction for the same event is rejected", func() {
		svc := s.newService(compileRules(s.T(), nil))
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(1)

		_, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)
		resp, err := svc.Confirm(s.ctx, registerRequest("tx-other", birthHistory(completeBirth())))

		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal(ReasonAlreadyRegistered, decodeBody(s, resp.Body)["reason"])
	})

	s.Run("missing required fields are listed and not recorded", func() {
		svc := s.newService(compileRules(s.T(), nil))
		decl := completeBirth()
		delete(decl, "child.dob")

		resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(decl)))
		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		body := decodeBody(s, resp.Body)
		s.Equal("missing required fields: child.dob", body["reason"])
		s.Equal([]any{map[string]any{"path": "child.dob", "message": "required"}}, body["fields"])

		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(1)
		resp, err = svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.Status)
	})

	s.Run("the pending action can clear a field", func() {
		svc := s.newService(compileRules(s.T(), nil))
		req := registerRequest("tx-reg", birthHistory(completeBirth()))
		req.Action.Declaration = declaration.Declaration{"child.dob": declaration.Cleared()}

		resp, err := svc.Confirm(s.ctx, req)
		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal("missing required fields: child.dob", decodeBody(s, resp.Body)["reason"])
	})
}

func (s *ServiceSuite) TestRegisterCarriesVerificationOutcomes() {
	svc := s.newService(compileRules(s.T(), nil), WithVerifier(s.verifier))
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)
	s.verifier.EXPECT().MaybeForward(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req verification.ForwardRequest) map[string]verification.Outcome {
			s.Equal([]string{"mother", "father", "informant"}, req.Roles)
			s.True(req.Declaration.Has("mother.nid"))
			return map[string]verification.Outcome{
				"mother":    verification.OutcomeVerified,
				"father":    verification.OutcomeFailed,
				"informant": verification.OutcomeSkipped,
			}
		})

	resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
	body := decodeBody(s, resp.Body)
	s.Equal("verified", body["mother.verified"])
	s.Equal("failed", body["father.verified"])
	s.Equal("skipped", body["informant.verified"])
	s.NotEmpty(body["registrationNumber"])
}

// nidProvider fails the NIDs it is told to and verifies the rest.
type nidProvider struct {
	failing map[string]bool
}

func (p nidProvider) VerifyNID(_ context.Context, req verification.VerifyRequest) (verification.Outcome, error) {
	if p.failing[req.NID] {
		return "", verification.NewProviderError(verification.ErrorOutage, "verify", "provider down", nil)
	}
	return verification.OutcomeVerified, nil
}

func (nidProvider) Register(context.Context, verification.RegisterRequest) error { return nil }

// =============================================================================
// Per-role verification through the real orchestrator
// =============================================================================
// Justification: one role failing at the provider must not fail the
// registration or hide the other roles' outcomes.

func (s *ServiceSuite) TestRegisterWithPartialVerification() {
	orch, err := verification.NewOrchestrator(
		nidProvider{failing: map[string]bool{"1234567890": true}},
		verification.WithLogger(s.logger),
		verification.WithCallTimeout(time.Second),
	)
	s.Require().NoError(err)
	svc := s.newService(compileRules(s.T(), nil), WithVerifier(orch))
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)

	decl := completeBirth()
	decl.Overlay(declaration.Declaration{
		"father.name": declaration.Of(map[string]string{"firstname": "George", "surname": "Byron"}),
		"father.dob":  declaration.Of("1988-01-22"),
		"father.nid":  declaration.Of("9876543210"),
	})
	resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(decl)))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
	body := decodeBody(s, resp.Body)
	s.Equal("failed", body["mother.verified"])
	s.Equal("verified", body["father.verified"])
	s.Equal("skipped", body["informant.verified"])
	s.Equal("2026TRK1", body["registrationNumber"])
}

// =============================================================================
// Registration held by another transaction
// =============================================================================
// Justification: a REGISTER that can only be refused must not send identity
// data to the provider.

func (s *ServiceSuite) TestRegisterRefusedBeforeVerification() {
	svc := s.newService(compileRules(s.T(), nil), WithVerifier(s.verifier))
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(1)
	s.verifier.EXPECT().MaybeForward(gomock.Any(), gomock.Any()).
		Return(map[string]verification.Outcome{"mother": verification.OutcomeVerified}).Times(1)

	first, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
	s.Require().NoError(err)
	s.Equal(http.StatusOK, first.Status)

	resp, err := svc.Confirm(s.ctx, registerRequest("tx-other", birthHistory(completeBirth())))
	s.Require().NoError(err)
	s.Equal(http.StatusBadRequest, resp.Status)
	s.Equal(ReasonAlreadyRegistered, decodeBody(s, resp.Body)["reason"])
}

func (s *ServiceSuite) TestNotificationCarriesInformantAndToken() {
	svc := s.newService(compileRules(s.T(), nil))
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n notification.Notification) bool {
			s.Equal("evt-1", n.EventID)
			s.Equal("REGISTER", n.ActionType)
			s.Equal("2026TRK1", n.RegistrationNumber)
			s.Equal("anne@example.com", n.Recipient.Email)
			s.Equal("core-token", n.Token)
			return false
		})

	resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status, "a dropped notification does not change the answer")
}

func (s *ServiceSuite) TestLedgerFailurePropagates() {
	ledger := mocks.NewMockLedger(s.ctrl)
	ledger.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInternal, "ledger lookup failed"))
	svc, err := New(ledger, compileRules(s.T(), nil), mocks.NewMockIssuer(s.ctrl), WithLogger(s.logger))
	s.Require().NoError(err)

	_, err = svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))

	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestIssuerFailureIsNotRecorded() {
	ledger, err := idempotency.New(idempotency.NewInMemoryStore(), idempotency.WithLogger(s.logger))
	s.Require().NoError(err)
	issuer := mocks.NewMockIssuer(s.ctrl)
	svc, err := New(ledger, compileRules(s.T(), nil), issuer, WithLogger(s.logger), WithNotifier(s.notifier))
	s.Require().NoError(err)
	req := registerRequest("tx-reg", birthHistory(completeBirth()))
	issuer.EXPECT().Lookup(gomock.Any(), "evt-1").
		Return(nil, dErrors.New(dErrors.CodeNotFound, "registration not found")).Times(2)

	issuer.EXPECT().Issue(gomock.Any(), "evt-1", "trk1", "tx-reg").Return("", errors.New("store down"))
	_, err = svc.Confirm(s.ctx, req)
	s.Error(err)

	issuer.EXPECT().Issue(gomock.Any(), "evt-1", "trk1", "tx-reg").Return("N-1", nil)
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)
	resp, err := svc.Confirm(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
	s.False(resp.Replayed)
}

func (s *ServiceSuite) TestJournalNotFound() {
	svc := s.newService(compileRules(s.T(), nil))
	_, err := svc.Journal(s.ctx, "evt-none")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
