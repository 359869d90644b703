package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"settlecam/internal/logging"
	"settlecam/internal/runstore"
)

// heartbeat refreshes a run's liveness timestamp while capture is in flight,
// so an operator polling status can tell a long recording from a hung one.
type heartbeat struct {
	store    *runstore.Store
	logger   *slog.Logger
	interval time.Duration
}

func newHeartbeat(store *runstore.Store, logger *slog.Logger, interval time.Duration) *heartbeat {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &heartbeat{store: store, logger: logger, interval: interval}
}

// around runs fn while a background ticker touches the run record.
func (h *heartbeat) around(ctx context.Context, runID string, fn func() error) error {
	beatCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.loop(beatCtx, runID)
	}()

	err := fn()
	cancel()
	<-done
	return err
}

func (h *heartbeat) loop(ctx context.Context, runID string) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Touch(ctx, runID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				h.logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
