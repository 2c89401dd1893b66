package gateway

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultScanBatch    = 50
)

// Worker resolves forward-mode deferrals: it reacts to new ones as they are
// created and periodically rescans for any left pending, e.g. after a restart.
type Worker struct {
	service  *Service
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type WorkerOption func(*Worker)

func WithScanInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(service *Service, opts ...WorkerOption) *Worker {
	w := &Worker{
		service:  service,
		interval: defaultScanInterval,
		batch:    defaultScanBatch,
		logger:   service.logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes deferrals until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-w.service.Forwards():
			w.process(ctx, id)
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Worker) scan(ctx context.Context) {
	pending, err := w.service.deferred.ListPending(ctx, DeferForward, w.batch)
	if err != nil {
		w.logger.ErrorContext(ctx, "deferred scan failed", "error", err)
		return
	}
	for _, d := range pending {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, d.ActionID)
	}
}

func (w *Worker) process(ctx context.Context, actionID string) {
	if err := w.service.ForwardDeferred(ctx, actionID); err != nil {
		w.logger.ErrorContext(ctx, "deferred forward failed",
			"action_id", actionID,
			"error", err,
		)
	}
}
