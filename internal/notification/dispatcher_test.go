package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmgate/internal/platform/metrics"
)

type recordingTransport struct {
	mu    sync.Mutex
	sent  []Notification
	calls atomic.Int32
	send  func(ctx context.Context, n Notification) error
}

func (r *recordingTransport) Send(ctx context.Context, n Notification) error {
	r.calls.Add(1)
	if r.send != nil {
		if err := r.send(ctx, n); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) delivered() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

func newTestDispatcher(t *testing.T, tr Transport, opts ...Option) (*Dispatcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m),
		WithRetry(3, time.Millisecond),
	}, opts...)
	d, err := NewDispatcher(tr, opts...)
	require.NoError(t, err)
	return d, m
}

func TestNewDispatcher(t *testing.T) {
	_, err := NewDispatcher(nil)
	assert.ErrorContains(t, err, "notification transport is required")
}

// =============================================================================
// Delivery
// =============================================================================

func TestDispatcherDelivers(t *testing.T) {
	tr := &recordingTransport{}
	d, m := newTestDispatcher(t, tr)
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, d.Notify(context.Background(), Notification{EventID: fmt.Sprintf("evt-%d", i)}))
	}
	require.NoError(t, d.Close(context.Background()))

	got := tr.delivered()
	assert.Len(t, got, 5)
	for _, n := range got {
		assert.False(t, n.OccurredAt.IsZero())
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Notifications.WithLabelValues("delivered")))
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	tr := &recordingTransport{send: func(context.Context, Notification) error {
		if failures.Add(1) <= 2 {
			return errors.New("connection refused")
		}
		return nil
	}}
	d, _ := newTestDispatcher(t, tr)
	d.Start(context.Background())

	d.Notify(context.Background(), Notification{EventID: "evt-1"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int32(3), tr.calls.Load())
	assert.Len(t, tr.delivered(), 1)
}

func TestDispatcherGivesUp(t *testing.T) {
	t.Run("after max retries", func(t *testing.T) {
		tr := &recordingTransport{send: func(context.Context, Notification) error {
			return errors.New("unavailable")
		}}
		d, m := newTestDispatcher(t, tr)
		d.Start(context.Background())

		d.Notify(context.Background(), Notification{EventID: "evt-1"})
		require.NoError(t, d.Close(context.Background()))

		assert.Equal(t, int32(4), tr.calls.Load())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("failed")))
	})

	t.Run("immediately on permanent failure", func(t *testing.T) {
		tr := &recordingTransport{send: func(context.Context, Notification) error {
			return fmt.Errorf("%w: status 400", ErrPermanent)
		}}
		d, _ := newTestDispatcher(t, tr)
		d.Start(context.Background())

		d.Notify(context.Background(), Notification{EventID: "evt-1"})
		require.NoError(t, d.Close(context.Background()))

		assert.Equal(t, int32(1), tr.calls.Load())
	})
}

// =============================================================================
// Back-pressure and shutdown
// =============================================================================
// Justification: Notify sits on the confirmation path and must never block.

func TestDispatcherDropsWhenFull(t *testing.T) {
	tr := &recordingTransport{}
	d, m := newTestDispatcher(t, tr, WithQueueSize(1))

	assert.True(t, d.Notify(context.Background(), Notification{EventID: "evt-1"}))
	assert.False(t, d.Notify(context.Background(), Notification{EventID: "evt-2"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped))

	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))
	require.Len(t, tr.delivered(), 1)
	assert.Equal(t, "evt-1", tr.delivered()[0].EventID)
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d, _ := newTestDispatcher(t, &recordingTransport{})
	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Notify(context.Background(), Notification{EventID: "evt-1"}))
	assert.NoError(t, d.Close(context.Background()), "second close is a no-op")
}

func TestDispatcherCloseDeadline(t *testing.T) {
	tr := &recordingTransport{send: func(ctx context.Context, _ Notification) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	d, _ := newTestDispatcher(t, tr, WithSendTimeout(time.Hour), WithWorkers(1))
	d.Start(context.Background())
	d.Notify(context.Background(), Notification{EventID: "evt-1"})
	d.Notify(context.Background(), Notification{EventID: "evt-2"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, tr.delivered())
}

func TestDispatcherNotifyDoesNotBlockOnSlowTransport(t *testing.T) {
	release := make(chan struct{})
	tr := &recordingTransport{send: func(context.Context, Notification) error {
		<-release
		return nil
	}}
	d, _ := newTestDispatcher(t, tr, WithWorkers(1))
	d.Start(context.Background())

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Notify(context.Background(), Notification{EventID: fmt.Sprintf("evt-%d", i)})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, tr.delivered(), 10)
}
