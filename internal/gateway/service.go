// Package gateway answers action confirmation requests from the registration
// core with accept (200), reject (400) or defer (202).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/gateway/ports"
	"confirmgate/internal/idempotency"
	"confirmgate/internal/platform/metrics"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/requestcontext"
)

const forwardQueueSize = 256

// Rules exposes the current compiled rules.
type Rules interface {
	Current() *Snapshot
}

// Service is the action confirmation gateway.
type Service struct {
	ledger      ports.Ledger
	rules       Rules
	issuer      ports.Issuer
	verifier    ports.Verifier
	notifier    ports.Notifier
	core        ports.Core
	deferred    DeferredStore
	corrections CorrectionStore
	journal     JournalStore
	forwards    chan string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithVerifier enables identity verification and registration forwarding.
func WithVerifier(v ports.Verifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithCore enables resolution of deferred actions.
func WithCore(c ports.Core) Option {
	return func(s *Service) {
		s.core = c
	}
}

func WithDeferredStore(store DeferredStore) Option {
	return func(s *Service) {
		s.deferred = store
	}
}

func WithCorrectionStore(store CorrectionStore) Option {
	return func(s *Service) {
		s.corrections = store
	}
}

func WithJournalStore(store JournalStore) Option {
	return func(s *Service) {
		s.journal = store
	}
}

func New(ledger ports.Ledger, rules Rules, issuer ports.Issuer, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("idempotency ledger is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rules are required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("registration issuer is required")
	}
	s := &Service{
		ledger:      ledger,
		rules:       rules,
		issuer:      issuer,
		deferred:    NewInMemoryDeferredStore(),
		corrections: NewInMemoryCorrectionStore(),
		journal:     NewInMemoryJournalStore(),
		forwards:    make(chan string, forwardQueueSize),
		logger:      slog.Default(),
		tracer:      otel.Tracer("confirmgate/gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Forwards yields the action ids of deferred registrations awaiting forwarding.
func (s *Service) Forwards() <-chan string {
	return s.forwards
}

// Confirm decides one action. Invalid requests yield a 400 response that is
// not recorded; every other decision is recorded and replayed for its
// transaction id. The returned error is reserved for failures the caller
// should see as 5xx or 409.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Response, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "gateway.Confirm", trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("action.id", req.Action.ID),
		attribute.String("action.type", string(req.Action.Type)),
	))
	defer span.End()

	snap := s.rules.Current()
	decl, err := s.prepare(ctx, snap, req)
	if err != nil {
		return s.invalid(ctx, req, err, start)
	}

	key := idempotency.Key{
		TransactionID: req.Action.TransactionID,
		EventID:       req.EventID,
		ActionID:      req.Action.ID,
		ActionType:    string(req.Action.Type),
		Fingerprint:   idempotency.Fingerprint(req.Payload),
	}

	var fresh *events.Decision
	out, err := s.ledger.Execute(ctx, key, func(ctx context.Context) (idempotency.Result, error) {
		d, err := s.decide(ctx, snap, req, decl)
		if err != nil {
			return idempotency.Result{}, err
		}
		if req.Action.Type == events.ActionRegister && d.Kind == events.DecisionAccept && d.RegistrationNumber() == "" {
			return idempotency.Result{}, dErrors.New(dErrors.CodeInvariantViolation, "register accept without registration number")
		}
		res, err := encodeDecision(d)
		if err != nil {
			return idempotency.Result{}, err
		}
		fresh = &d
		return res, nil
	})
	if err != nil {
		if isInvalid(err) {
			return s.invalid(ctx, req, err, start)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		s.logger.ErrorContext(ctx, "confirmation failed",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", req.EventID,
			"action_id", req.Action.ID,
			"transaction_id", req.Action.TransactionID,
			"error", err,
		)
		return nil, err
	}

	if fresh != nil {
		s.afterDecision(ctx, req, decl, *fresh)
	}
	s.metrics.ObserveConfirmation(string(req.Action.Type), outcomeLabel(out.Status), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", out.Status), attribute.Bool("replayed", out.Replayed))

	s.logger.InfoContext(ctx, "action confirmed",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", req.EventID,
		"action_id", req.Action.ID,
		"action_type", string(req.Action.Type),
		"transaction_id", req.Action.TransactionID,
		"status", out.Status,
		"replayed", out.Replayed,
		"rules_version", snap.Version,
	)
	return &Response{Status: out.Status, Body: out.Body, Replayed: out.Replayed}, nil
}

// prepare runs every check that needs no side effect and returns the
// prospective declaration.
func (s *Service) prepare(ctx context.Context, snap *Snapshot, req ConfirmRequest) (declaration.Declaration, error) {
	a := req.Action
	switch {
	case req.EventID == "":
		return nil, dErrors.New(dErrors.CodeValidation, "eventId is required")
	case a.ID == "":
		return nil, dErrors.New(dErrors.CodeValidation, "actionId is required")
	case a.TransactionID == "":
		return nil, dErrors.New(dErrors.CodeValidation, "transactionId is required")
	}
	switch a.Type {
	case events.ActionApproveCorrection, events.ActionRejectCorrection:
		if a.RequestID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "requestId is required")
		}
	}
	if a.Type == events.ActionRejectCorrection && trimmed(a.Reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}

	if err := snap.Registry.Validate(a.Declaration, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	decl, err := events.Aggregate(req.History, a)
	if err != nil {
		return nil, err
	}

	if a.Type == events.ActionRegister {
		var missing []string
		for _, path := range snap.Policy(req.EventType).Required {
			if !decl.Has(path) {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			fields := make([]declaration.FieldError, 0, len(missing))
			for _, path := range missing {
				fields = append(fields, declaration.FieldError{Path: path, Message: "required"})
			}
			return nil, dErrors.Wrap(&declaration.ValidationError{Fields: fields}, dErrors.CodeValidation,
				fmt.Sprintf("missing required fields: %s", joinPaths(missing)))
		}
	}
	return decl, nil
}

func (s *Service) decide(ctx context.Context, snap *Snapshot, req ConfirmRequest, decl declaration.Declaration) (events.Decision, error) {
	switch req.Action.Type {
	case events.ActionRegister:
		return s.onRegister(ctx, snap, req, decl)
	case events.ActionApproveCorrection, events.ActionRejectCorrection:
		return s.onResolveCorrection(ctx, req)
	default:
		// DECLARE, NOTIFY, REQUEST_CORRECTION and anything else only need
		// the validation prepare already ran.
		return events.Accept(nil), nil
	}
}

func (s *Service) afterDecision(ctx context.Context, req ConfirmRequest, decl declaration.Declaration, d events.Decision) {
	now := requestcontext.Now(ctx)
	entry := JournalEntry{
		EventID:       req.EventID,
		ActionID:      req.Action.ID,
		ActionType:    req.Action.Type,
		TransactionID: req.Action.TransactionID,
		Status:        events.StatusRequested,
		At:            now,
	}
	s.appendJournal(ctx, entry)

	switch d.Kind {
	case events.DecisionAccept:
		entry.Status = events.StatusAccepted
		s.appendJournal(ctx, entry)
		if notifiable(req.Action.Type) {
			s.notify(ctx, newNotification(req.EventID, req.EventType, req.TrackingID, req.Action, decl, d.RegistrationNumber()))
		}
	case events.DecisionReject:
		entry.Status = events.StatusRejected
		entry.Reason = d.Reason
		s.appendJournal(ctx, entry)
	}
}

func (s *Service) appendJournal(ctx context.Context, e JournalEntry) {
	if err := s.journal.Append(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "journal append failed",
			"event_id", e.EventID,
			"action_id", e.ActionID,
			"status", string(e.Status),
			"error", err,
		)
	}
}

// Journal returns the actions and correction resolutions seen for eventID.
func (s *Service) Journal(ctx context.Context, eventID string) (*Journal, error) {
	if eventID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "eventId is required")
	}
	entries, err := s.journal.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "journal lookup failed")
	}
	if len(entries) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
	}
	corrections, err := s.corrections.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "correction lookup failed")
	}
	return &Journal{EventID: eventID, Actions: entries, Corrections: corrections}, nil
}

func (s *Service) invalid(ctx context.Context, req ConfirmRequest, err error, start time.Time) (*Response, error) {
	body := map[string]any{"reason": dErrors.Message(err)}
	var ve *declaration.ValidationError
	if errors.As(err, &ve) {
		fields := make([]map[string]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			fields = append(fields, map[string]string{"path": f.Path, "message": f.Message})
		}
		body["fields"] = fields
	}
	raw, mErr := json.Marshal(body)
	if mErr != nil {
		return nil, dErrors.Wrap(mErr, dErrors.CodeInternal, "encode response")
	}
	s.logger.WarnContext(ctx, "confirmation request invalid",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", req.EventID,
		"action_id", req.Action.ID,
		"transaction_id", req.Action.TransactionID,
		"reason", dErrors.Message(err),
	)
	s.metrics.ObserveConfirmation(string(req.Action.Type), "invalid", time.Since(start))
	return &Response{Status: http.StatusBadRequest, Body: raw}, nil
}

func isInvalid(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeValidation) ||
		dErrors.HasCode(err, dErrors.CodeBadRequest) ||
		dErrors.HasCode(err, dErrors.CodeInvalidInput)
}

func encodeDecision(d events.Decision) (idempotency.Result, error) {
	switch d.Kind {
	case events.DecisionAccept:
		body, err := json.Marshal(d.Extra)
		if err != nil {
			return idempotency.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode accept")
		}
		return idempotency.Result{Status: http.StatusOK, Body: body}, nil
	case events.DecisionReject:
		body, err := json.Marshal(map[string]string{"reason": d.Reason})
		if err != nil {
			return idempotency.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode reject")
		}
		return idempotency.Result{Status: http.StatusBadRequest, Body: body}, nil
	case events.DecisionDefer:
		return idempotency.Result{Status: http.StatusAccepted}, nil
	default:
		return idempotency.Result{}, dErrors.New(dErrors.CodeInvariantViolation, "unknown decision kind")
	}
}

func outcomeLabel(status int) string {
	switch status {
	case http.StatusOK:
		return string(events.DecisionAccept)
	case http.StatusAccepted:
		return string(events.DecisionDefer)
	default:
		return string(events.DecisionReject)
	}
}
