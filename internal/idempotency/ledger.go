// Package idempotency implements the transaction ledger that makes repeated
// deliveries of one confirmation produce one execution and one answer.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"confirmgate/internal/platform/metrics"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/requestcontext"
)

const (
	defaultRetention    = 72 * time.Hour
	defaultClaimTTL     = 30 * time.Second
	defaultClaimWait    = 5 * time.Second
	defaultPollInterval = 25 * time.Millisecond
)

// Ledger serializes executions per transaction id. In-process duplicates
// share one execution through singleflight; duplicates on other replicas
// lose the store claim and wait for the winner's record.
type Ledger struct {
	store        Store
	group        singleflight.Group
	logger       *slog.Logger
	metrics      *metrics.Metrics
	retention    time.Duration
	claimTTL     time.Duration
	claimWait    time.Duration
	pollInterval time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithRetention sets how long completed records keep replay protection.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithClaimTimeouts sets how long an in-flight claim lives and how long a
// duplicate waits for it to complete.
func WithClaimTimeouts(ttl, wait time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.claimTTL = ttl
		}
		if wait > 0 {
			l.claimWait = wait
		}
	}
}

func withPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.pollInterval = d
	}
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	l := &Ledger{
		store:        store,
		logger:       slog.Default(),
		retention:    defaultRetention,
		claimTTL:     defaultClaimTTL,
		claimWait:    defaultClaimWait,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Retention returns the configured replay window.
func (l *Ledger) Retention() time.Duration {
	return l.retention
}

// Execute runs fn at most once per transaction id and records its result.
// If fn returns an error nothing is recorded and a later delivery may retry.
func (l *Ledger) Execute(ctx context.Context, key Key, fn func(context.Context) (Result, error)) (*Outcome, error) {
	if key.TransactionID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "transactionId is required")
	}

	executed := false
	v, err, _ := l.group.Do(key.TransactionID, func() (any, error) {
		executed = true
		return l.execute(ctx, key, fn)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*Outcome)
	if !executed {
		out.Replayed = true
		l.metrics.IncLedgerReplay(key.ActionType)
	}
	return &out, nil
}

func (l *Ledger) execute(ctx context.Context, key Key, fn func(context.Context) (Result, error)) (*Outcome, error) {
	rec, err := l.store.Get(ctx, key.TransactionID)
	if err == nil {
		return l.replay(ctx, key, rec), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger lookup failed")
	}

	now := requestcontext.Now(ctx)
	claimed, err := l.store.Claim(ctx, key.TransactionID, now, now.Add(l.claimTTL))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger claim failed")
	}
	if !claimed {
		return l.await(ctx, key)
	}

	res, err := fn(ctx)
	// Side effects have happened; a caller hanging up must not lose the record.
	ctx = requestcontext.Detach(ctx)
	if err != nil {
		l.release(ctx, key)
		return nil, err
	}

	rec = &Record{
		TransactionID: key.TransactionID,
		EventID:       key.EventID,
		ActionID:      key.ActionID,
		ActionType:    key.ActionType,
		Status:        res.Status,
		Body:          res.Body,
		Fingerprint:   key.Fingerprint,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := l.store.Complete(ctx, rec); err != nil {
		l.release(ctx, key)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger write failed")
	}
	return &Outcome{Result: res}, nil
}

// await polls for the record of a claim held elsewhere.
func (l *Ledger) await(ctx context.Context, key Key) (*Outcome, error) {
	deadline := time.NewTimer(l.claimWait)
	defer deadline.Stop()
	tick := time.NewTicker(l.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "waiting for in-flight transaction")
		case <-deadline.C:
			return nil, dErrors.New(dErrors.CodeConflict, "transaction already in progress")
		case <-tick.C:
			rec, err := l.store.Get(ctx, key.TransactionID)
			if err == nil {
				return l.replay(ctx, key, rec), nil
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger lookup failed")
			}
		}
	}
}

func (l *Ledger) replay(ctx context.Context, key Key, rec *Record) *Outcome {
	if key.Fingerprint != "" && rec.Fingerprint != "" && key.Fingerprint != rec.Fingerprint {
		l.metrics.IncFingerprintMismatch()
		l.logger.WarnContext(ctx, "transaction replayed with a different payload",
			"request_id", requestcontext.RequestID(ctx),
			"transaction_id", key.TransactionID,
			"event_id", rec.EventID,
			"action_id", rec.ActionID,
		)
	}
	l.metrics.IncLedgerReplay(rec.ActionType)
	return &Outcome{
		Result:   Result{Status: rec.Status, Body: rec.Body},
		Replayed: true,
	}
}

func (l *Ledger) release(ctx context.Context, key Key) {
	if err := l.store.Release(ctx, key.TransactionID); err != nil {
		l.logger.ErrorContext(ctx, "failed to release ledger claim",
			"transaction_id", key.TransactionID,
			"error", err,
		)
	}
}

// Lookup returns the completed record for a transaction id.
func (l *Ledger) Lookup(ctx context.Context, transactionID string) (*Record, error) {
	rec, err := l.store.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger lookup failed")
	}
	return rec, nil
}

// Sweep removes records older than the retention window.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	cutoff := requestcontext.Now(ctx).Add(-l.retention)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	l.metrics.AddLedgerSwept(n)
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done. A non-positive
// interval sweeps hourly.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.ErrorContext(ctx, "ledger sweep failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.InfoContext(ctx, "ledger swept", "removed", n)
			}
		}
	}
}
