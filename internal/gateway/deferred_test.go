package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/mock/gomock"

	"confirmgate/internal/core"
	"confirmgate/internal/platform/config"
	"confirmgate/internal/verification"
	dErrors "confirmgate/pkg/domain-errors"
)

func deferBirth(r *config.RulesConfig) {
	ev := r.Events["birth"]
	ev.DeferWhen = `"mother.nid" in declaration`
	r.Events["birth"] = ev
}

func forwardBirth(r *config.RulesConfig) {
	ev := r.Events["birth"]
	ev.ForwardWhen = "true"
	r.Events["birth"] = ev
}

var registerRef = core.ActionRef{EventID: "evt-1", ActionID: "act-register", ActionType: "register"}

// =============================================================================
// Deferred actions
// =============================================================================
// Justification: a 202 must eventually be resolved through the core exactly
// once, and a failed callback must leave the action pending for a retry.

func (s *ServiceSuite) TestManualDeferral() {
	s.Run("register is deferred and resolved by an operator", func() {
		svc := s.newService(compileRules(s.T(), deferBirth))

		resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)
		s.Equal(http.StatusAccepted, resp.Status)
		s.Empty(resp.Body)

		pending, err := s.deferred.Get(s.ctx, "act-register")
		s.Require().NoError(err)
		s.Equal(DeferredPending, pending.Status)
		s.Equal(DeferManual, pending.Mode)
		s.Equal("core-token", pending.Token)

		s.core.EXPECT().Accept(gomock.Any(), registerRef, map[string]any{"registrationNumber": "2026TRK1"}).Return(nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)

		d, err := svc.ResolveDeferred(s.ctx, "act-register", true, "")
		s.Require().NoError(err)
		s.Equal(DeferredAccepted, d.Status)
		s.NotNil(d.ResolvedAt)

		_, err = svc.ResolveDeferred(s.ctx, "act-register", true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		journal, err := svc.Journal(s.ctx, "evt-1")
		s.Require().NoError(err)
		s.Require().Len(journal.Actions, 2)
		s.Equal("Accepted", string(journal.Actions[1].Status))
	})

	s.Run("replayed defer creates no second deferral", func() {
		svc := s.newService(compileRules(s.T(), deferBirth))
		req := registerRequest("tx-reg", birthHistory(completeBirth()))

		first, err := svc.Confirm(s.ctx, req)
		s.Require().NoError(err)
		second, err := svc.Confirm(s.ctx, req)
		s.Require().NoError(err)

		s.Equal(http.StatusAccepted, first.Status)
		s.Equal(http.StatusAccepted, second.Status)
		s.True(second.Replayed)
	})

	s.Run("operator rejection needs a reason", func() {
		svc := s.newService(compileRules(s.T(), deferBirth))
		_, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)

		_, err = svc.ResolveDeferred(s.ctx, "act-register", false, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		s.core.EXPECT().Reject(gomock.Any(), registerRef, "duplicate record").Return(nil)
		d, err := svc.ResolveDeferred(s.ctx, "act-register", false, "duplicate record")
		s.Require().NoError(err)
		s.Equal(DeferredRejected, d.Status)
		s.Equal("duplicate record", d.Reason)
	})

	s.Run("failed callback leaves the action pending", func() {
		svc := s.newService(compileRules(s.T(), deferBirth))
		_, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)

		s.core.EXPECT().Accept(gomock.Any(), registerRef, gomock.Any()).Return(errors.New("core unreachable"))
		_, err = svc.ResolveDeferred(s.ctx, "act-register", true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		d, err := s.deferred.Get(s.ctx, "act-register")
		s.Require().NoError(err)
		s.Equal(DeferredPending, d.Status)

		s.core.EXPECT().Accept(gomock.Any(), registerRef, map[string]any{"registrationNumber": "2026TRK1"}).Return(nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)
		d, err = svc.ResolveDeferred(s.ctx, "act-register", true, "")
		s.Require().NoError(err)
		s.Equal(DeferredAccepted, d.Status)
	})

	s.Run("unknown action is not found", func() {
		svc := s.newService(compileRules(s.T(), nil))
		_, err := svc.ResolveDeferred(s.ctx, "nope", true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("a new service starts with no deferred actions", func() {
		svc := s.newService(compileRules(s.T(), deferBirth))

		pending, err := s.deferred.ListPending(s.ctx, DeferManual, 10)
		s.Require().NoError(err)
		s.Empty(pending)
		_, err = svc.ResolveDeferred(s.ctx, "act-register", true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestForwardDeferral() {
	s.verifier.EXPECT().MaybeForward(gomock.Any(), gomock.Any()).
		Return(map[string]verification.Outcome{"mother": verification.OutcomeVerified}).AnyTimes()

	s.Run("forwarded and accepted even when the provider fails", func() {
		svc := s.newService(compileRules(s.T(), forwardBirth), WithVerifier(s.verifier))

		resp, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)
		s.Equal(http.StatusAccepted, resp.Status)

		var id string
		select {
		case id = <-svc.Forwards():
		default:
			s.FailNow("forward not queued")
		}
		s.Equal("act-register", id)

		s.verifier.EXPECT().Forward(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req verification.RegisterRequest) error {
				s.Equal("trk1", req.TrackingID)
				s.Equal("tx-reg", req.MetaInfo["transactionId"])
				return verification.NewProviderError(verification.ErrorOutage, "register", "provider down", nil)
			})
		s.core.EXPECT().Accept(gomock.Any(), registerRef, map[string]any{
			"mother.verified":    "verified",
			"registrationNumber": "2026TRK1",
		}).Return(nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)

		s.Require().NoError(svc.ForwardDeferred(s.ctx, id))

		d, err := s.deferred.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(DeferredAccepted, d.Status)
		s.Require().NoError(svc.ForwardDeferred(s.ctx, id), "resolved actions are skipped")
	})

	s.Run("worker resolves queued forwards", func() {
		svc := s.newService(compileRules(s.T(), forwardBirth), WithVerifier(s.verifier))
		s.verifier.EXPECT().Forward(gomock.Any(), gomock.Any()).Return(nil)
		s.core.EXPECT().Accept(gomock.Any(), registerRef, gomock.Any()).Return(nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true)

		_, err := svc.Confirm(s.ctx, registerRequest("tx-reg", birthHistory(completeBirth())))
		s.Require().NoError(err)

		ctx, cancel := context.WithCancel(s.ctx)
		done := make(chan error, 1)
		go func() { done <- NewWorker(svc, WithScanInterval(10*time.Millisecond)).Run(ctx) }()

		s.Eventually(func() bool {
			d, err := s.deferred.Get(s.ctx, "act-register")
			return err == nil && d.Status == DeferredAccepted
		}, time.Second, 5*time.Millisecond)
		cancel()
		s.ErrorIs(<-done, context.Canceled)
	})
}
