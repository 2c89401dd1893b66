// Package handler exposes the gateway over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"confirmgate/internal/gateway"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/httputil"
	"confirmgate/pkg/requestcontext"
)

// ReplayHeader marks responses replayed from the idempotency ledger.
const ReplayHeader = "Idempotent-Replayed"

// Service is the gateway as seen by the transport.
type Service interface {
	Confirm(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Response, error)
	Journal(ctx context.Context, eventID string) (*gateway.Journal, error)
	ResolveDeferred(ctx context.Context, actionID string, accept bool, reason string) (*gateway.DeferredAction, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the gateway endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events/{eventId}/{action}", h.HandleConfirm)
	r.Get("/events/{eventId}", h.HandleJournal)
	r.Post("/deferred/{actionId}/accept", h.HandleAcceptDeferred)
	r.Post("/deferred/{actionId}/reject", h.HandleRejectDeferred)
}

// HandleConfirm handles POST /events/{eventId}/{action}. The gateway's own
// answer is written verbatim; malformed requests get a 400 with a reason.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		h.writeReason(w, "request body too large")
		return
	}
	var req ConfirmRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode confirmation",
			"request_id", requestID,
			"error", err,
		)
		msg := "invalid JSON body"
		if len(payload) == 0 {
			msg = "request body is required"
		}
		h.writeReason(w, msg)
		return
	}
	req.Normalize()
	if err := req.Bind(chi.URLParam(r, "eventId"), chi.URLParam(r, "action")); err != nil {
		h.writeReason(w, dErrors.Message(err))
		return
	}

	resp, err := h.service.Confirm(ctx, req.ToDomain(payload))
	if err != nil {
		h.logger.ErrorContext(ctx, "confirmation failed",
			"request_id", requestID,
			"event_id", req.EventID,
			"action_id", req.ActionID,
			"transaction_id", req.TransactionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(ReplayHeader, "true")
	}
	h.logger.InfoContext(ctx, "confirmation answered",
		"request_id", requestID,
		"event_id", req.EventID,
		"action_id", req.ActionID,
		"status", resp.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteRaw(w, resp.Status, resp.Body)
}

// HandleJournal handles GET /events/{eventId}.
func (h *Handler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	journal, err := h.service.Journal(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, journal)
}

// HandleAcceptDeferred handles POST /deferred/{actionId}/accept.
func (h *Handler) HandleAcceptDeferred(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, true, "")
}

// HandleRejectDeferred handles POST /deferred/{actionId}/reject.
func (h *Handler) HandleRejectDeferred(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.resolve(w, r, false, req.Reason)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, accept bool, reason string) {
	ctx := r.Context()
	actionID := chi.URLParam(r, "actionId")
	d, err := h.service.ResolveDeferred(ctx, actionID, accept, reason)
	if err != nil {
		level := slog.LevelWarn
		if dErrors.HasCode(err, dErrors.CodeUnavailable) {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "deferred resolution failed",
			"request_id", requestcontext.RequestID(ctx),
			"action_id", actionID,
			"accept", accept,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDeferred(d))
}

func (h *Handler) writeReason(w http.ResponseWriter, reason string) {
	httputil.WriteJSON(w, http.StatusBadRequest, reasonResponse{Reason: reason})
}
