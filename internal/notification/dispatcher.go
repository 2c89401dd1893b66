// Package notification delivers confirmation notices off the response path.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"confirmgate/internal/platform/metrics"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 2
	defaultMaxRetries  = 5
	defaultSendTimeout = 5 * time.Second
	defaultRetryDelay  = 200 * time.Millisecond
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Transport delivers a single notification.
type Transport interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications and delivers them from background workers.
// Notify never blocks: a full queue drops the notification.
type Dispatcher struct {
	transport   Transport
	queue       chan Notification
	workers     int
	maxRetries  uint64
	retryDelay  time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Notification, n)
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry configures delivery retries: up to maxRetries after the first
// attempt, starting at initialDelay and growing exponentially.
func WithRetry(maxRetries uint64, initialDelay time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxRetries = maxRetries
		if initialDelay > 0 {
			d.retryDelay = initialDelay
		}
	}
}

func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

func NewDispatcher(transport Transport, opts ...Option) (*Dispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("notification transport is required")
	}
	d := &Dispatcher{
		transport:   transport,
		queue:       make(chan Notification, defaultQueueSize),
		workers:     defaultWorkers,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Notify enqueues n and reports whether it was accepted.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.WarnContext(ctx, "notification dropped, dispatcher closed", "event_id", n.EventID, "action_id", n.ActionID)
		d.metrics.IncNotificationDropped()
		return false
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.logger.WarnContext(ctx, "notification dropped, queue full", "event_id", n.EventID, "action_id", n.ActionID)
		d.metrics.IncNotificationDropped()
		return false
	}
}

// Start launches the delivery workers. Cancelling ctx aborts in-flight retries.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Close stops accepting notifications and waits for the queue to drain.
// If ctx ends first, remaining deliveries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	if ctx.Err() != nil {
		d.metrics.IncNotificationDropped()
		return
	}

	attempts := 0
	op := func() error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()

		err := d.transport.Send(sendCtx, n)
		if err != nil && errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		d.logger.ErrorContext(ctx, "notification delivery failed",
			"event_id", n.EventID,
			"action_id", n.ActionID,
			"transaction_id", n.TransactionID,
			"attempts", attempts,
			"error", err,
		)
		d.metrics.IncNotification("failed")
		return
	}
	d.logger.DebugContext(ctx, "notification delivered",
		"event_id", n.EventID,
		"action_id", n.ActionID,
		"attempts", attempts,
	)
	d.metrics.IncNotification("delivered")
}
