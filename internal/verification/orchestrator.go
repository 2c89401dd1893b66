// Package verification forwards identity triples to the national ID provider
// and folds the per-role results back into a confirmation.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"confirmgate/internal/declaration"
	"confirmgate/internal/platform/metrics"
	"confirmgate/pkg/platform/circuit"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCallTimeout  = 3 * time.Second
	defaultForwardTries = 3
	providerCircuitName = "identity-provider"
)

// transactionNamespace seeds the per-role provider transaction ids.
var transactionNamespace = uuid.MustParse("6f1c1c2e-2b0e-4d55-9a55-8f7f0c3b7d21")

// Provider is the narrow national ID capability.
type Provider interface {
	VerifyNID(ctx context.Context, req VerifyRequest) (Outcome, error)
	Register(ctx context.Context, req RegisterRequest) error
}

// ForwardRequest is everything MaybeForward needs for one confirmation.
type ForwardRequest struct {
	EventID     string
	EventType   string
	TrackingID  string
	Roles       []string
	Policy      *Policy
	Declaration declaration.Declaration
}

// Orchestrator fans identity checks out per role. Provider failures are
// never returned; they become OutcomeFailed for that role only.
type Orchestrator struct {
	provider     Provider
	breaker      *circuit.Breaker
	callTimeout  time.Duration
	forwardTries uint64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithForwardRetries sets how many times a retryable register failure is retried.
func WithForwardRetries(n uint64) Option {
	return func(o *Orchestrator) {
		o.forwardTries = n
	}
}

func NewOrchestrator(provider Provider, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	o := &Orchestrator{
		provider:     provider,
		breaker:      circuit.New(providerCircuitName),
		callTimeout:  defaultCallTimeout,
		forwardTries: defaultForwardTries,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// TransactionID derives the provider transaction id for (eventID, role).
func TransactionID(eventID, role string) string {
	return uuid.NewSHA1(transactionNamespace, []byte(eventID+":"+role)).String()
}

// MaybeForward evaluates the forward policy and, when it holds, verifies every
// configured role concurrently. A nil result means nothing was forwarded.
func (o *Orchestrator) MaybeForward(ctx context.Context, req ForwardRequest) map[string]Outcome {
	if req.Policy == nil || len(req.Roles) == 0 {
		return nil
	}
	forward, err := req.Policy.Holds(req.EventType, req.TrackingID, req.Declaration.ToMap())
	if err != nil {
		o.logger.ErrorContext(ctx, "verification policy evaluation failed",
			"event_id", req.EventID,
			"policy", req.Policy.Expression(),
			"error", err,
		)
		return nil
	}
	if !forward {
		return nil
	}
	return o.verifyRoles(ctx, req)
}

func (o *Orchestrator) verifyRoles(ctx context.Context, req ForwardRequest) map[string]Outcome {
	results := make(map[string]Outcome, len(req.Roles))
	var mu sync.Mutex
	var g errgroup.Group

	for _, role := range req.Roles {
		vr, ok := identityTriple(req.Declaration, role)
		if !ok {
			mu.Lock()
			results[role] = OutcomeSkipped
			mu.Unlock()
			o.metrics.ObserveVerification(role, string(OutcomeSkipped), 0)
			continue
		}
		vr.TransactionID = TransactionID(req.EventID, role)

		g.Go(func() error {
			start := time.Now()
			outcome := o.verifyOne(ctx, req.EventID, role, vr)
			o.metrics.ObserveVerification(role, string(outcome), time.Since(start))

			mu.Lock()
			results[role] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) verifyOne(ctx context.Context, eventID, role string, req VerifyRequest) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "identity provider panicked",
				"event_id", eventID,
				"role", role,
				"panic", r,
			)
			outcome = OutcomeFailed
		}
	}()

	if !o.breaker.Allow() {
		o.logger.WarnContext(ctx, "identity provider circuit open, skipping call",
			"event_id", eventID,
			"role", role,
		)
		return OutcomeFailed
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	result, err := o.provider.VerifyNID(callCtx, req)
	if err != nil {
		o.recordFailure(ctx)
		o.logger.WarnContext(ctx, "identity verification failed",
			"event_id", eventID,
			"role", role,
			"transaction_id", req.TransactionID,
			"category", string(CategoryOf(err)),
			"error", err,
		)
		return OutcomeFailed
	}
	o.recordSuccess(ctx)

	if result != OutcomeVerified {
		return OutcomeFailed
	}
	return OutcomeVerified
}

// Forward sends a registration to the provider, retrying retryable failures.
func (o *Orchestrator) Forward(ctx context.Context, req RegisterRequest) error {
	op := func() error {
		if !o.breaker.Allow() {
			return backoff.Permanent(NewProviderError(ErrorCircuitOpen, "register", "circuit open", nil))
		}
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		err := o.provider.Register(callCtx, req)
		if err == nil {
			o.recordSuccess(ctx)
			return nil
		}
		o.recordFailure(ctx)
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		o.logger.WarnContext(ctx, "registration forward failed, retrying",
			"tracking_id", req.TrackingID,
			"category", string(CategoryOf(err)),
			"error", err,
		)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.forwardTries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return fmt.Errorf("forward registration %s: %w", req.TrackingID, err)
	}
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context) {
	_, change := o.breaker.RecordFailure()
	if change.Opened {
		o.logger.ErrorContext(ctx, "identity provider circuit opened", "circuit", o.breaker.Name())
		o.metrics.SetProviderCircuitOpen(true)
	}
}

func (o *Orchestrator) recordSuccess(ctx context.Context) {
	_, change := o.breaker.RecordSuccess()
	if change.Closed {
		o.logger.InfoContext(ctx, "identity provider circuit closed", "circuit", o.breaker.Name())
		o.metrics.SetProviderCircuitOpen(false)
	}
}

// identityTriple reads <role>.dob, <role>.nid and <role>.name.
func identityTriple(d declaration.Declaration, role string) (VerifyRequest, bool) {
	dob, ok := d.String(role + ".dob")
	if !ok || dob == "" {
		return VerifyRequest{}, false
	}
	nid, ok := d.String(role + ".nid")
	if !ok || nid == "" {
		return VerifyRequest{}, false
	}
	name, ok := d.Name(role + ".name")
	if !ok || name.Full() == "" {
		return VerifyRequest{}, false
	}
	gender, _ := d.String(role + ".gender")
	return VerifyRequest{DOB: dob, NID: nid, Name: name.Full(), Gender: gender}, true
}
