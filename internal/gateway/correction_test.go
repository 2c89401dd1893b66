package gateway

import (
	"net/http"

	"go.uber.org/mock/gomock"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
)

func correctionHistory(requestStatus events.ActionStatus) []events.Action {
	h := birthHistory(completeBirth())
	return append(h,
		events.Action{ID: "act-register", Type: events.ActionRegister, Status: events.StatusAccepted, TransactionID: "tx-reg"},
		events.Action{
			ID: "req-1", Type: events.ActionRequestCorrection, Status: requestStatus, TransactionID: "tx-req",
			Declaration: declaration.Declaration{"child.dob": declaration.Of("2026-02-28")},
		},
	)
}

func resolveRequest(actionID, txID string, t events.ActionType, requestID string, history []events.Action) ConfirmRequest {
	return ConfirmRequest{
		EventID:   "evt-1",
		EventType: events.EventBirth,
		Action: events.Action{
			ID: actionID, Type: t, TransactionID: txID, RequestID: requestID, Reason: "typo in record",
		},
		History: history,
	}
}

// =============================================================================
// Correction resolution
// =============================================================================
// Justification: a correction request may be resolved once. Later approvals
// or rejections for the same request are refused whichever transaction they
// arrive under.

func (s *ServiceSuite) TestResolveCorrection() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).AnyTimes()

	s.Run("approve of an open request is accepted", func() {
		svc := s.newService(compileRules(s.T(), nil))
		resp, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-1", correctionHistory(events.StatusRequested)))
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.Status)

		journal, err := svc.Journal(s.ctx, "evt-1")
		s.Require().NoError(err)
		s.Require().Len(journal.Corrections, 1)
		s.Equal("ap-1", journal.Corrections[0].ActionID)
		s.Equal(events.ActionApproveCorrection, journal.Corrections[0].Resolution)
	})

	s.Run("second resolution under another transaction is refused", func() {
		svc := s.newService(compileRules(s.T(), nil))
		history := correctionHistory(events.StatusRequested)

		_, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-1", history))
		s.Require().NoError(err)
		resp, err := svc.Confirm(s.ctx, resolveRequest("rj-1", "tx-rj-1", events.ActionRejectCorrection, "req-1", history))

		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal(ReasonCorrectionResolved, decodeBody(s, resp.Body)["reason"])
	})

	s.Run("same action under a new transaction is refused", func() {
		svc := s.newService(compileRules(s.T(), nil))
		history := correctionHistory(events.StatusRequested)

		_, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-1", history))
		s.Require().NoError(err)
		resp, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-2", events.ActionApproveCorrection, "req-1", history))

		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal(ReasonCorrectionResolved, decodeBody(s, resp.Body)["reason"])
	})

	s.Run("reject reusing the approval's action id is refused", func() {
		svc := s.newService(compileRules(s.T(), nil))
		history := correctionHistory(events.StatusRequested)

		_, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-1", history))
		s.Require().NoError(err)
		resp, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-rj-1", events.ActionRejectCorrection, "req-1", history))

		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal(ReasonCorrectionResolved, decodeBody(s, resp.Body)["reason"])

		journal, err := svc.Journal(s.ctx, "evt-1")
		s.Require().NoError(err)
		s.Require().Len(journal.Corrections, 1)
		s.Equal(events.ActionApproveCorrection, journal.Corrections[0].Resolution)
		s.Equal("tx-ap-1", journal.Corrections[0].TransactionID)
	})

	s.Run("resolution already in history is refused", func() {
		svc := s.newService(compileRules(s.T(), nil))
		history := append(correctionHistory(events.StatusRequested), events.Action{
			ID: "ap-0", Type: events.ActionApproveCorrection, Status: events.StatusAccepted, TransactionID: "tx-ap-0", RequestID: "req-1",
		})

		resp, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-1", history))

		s.Require().NoError(err)
		s.Equal(http.StatusBadRequest, resp.Status)
		s.Equal(ReasonCorrectionResolved, decodeBody(s, resp.Body)["reason"])
	})

	s.Run("unknown or rejected request is not found", func() {
		svc := s.newService(compileRules(s.T(), nil))

		resp, err := svc.Confirm(s.ctx, resolveRequest("ap-1", "tx-ap-1", events.ActionApproveCorrection, "req-9", correctionHistory(events.StatusRequested)))
		s.Require().NoError(err)
		s.Equal(ReasonCorrectionNotFound, decodeBody(s, resp.Body)["reason"])

		resp, err = svc.Confirm(s.ctx, resolveRequest("ap-2", "tx-ap-2", events.ActionApproveCorrection, "req-1", correctionHistory(events.StatusRejected)))
		s.Require().NoError(err)
		s.Equal(ReasonCorrectionNotFound, decodeBody(s, resp.Body)["reason"])
	})
}
