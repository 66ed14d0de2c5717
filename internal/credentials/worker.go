package credentials

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// Worker runs the two refresh sweeps on their own schedules.
type Worker struct {
	manager           *Manager
	logger            *logging.Logger
	sweepInterval     time.Duration
	fullSweepInterval time.Duration
	refreshWindow     time.Duration
}

// NewWorker creates a sweep worker with operational defaults.
func NewWorker(manager *Manager, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		manager:           manager,
		logger:            logger,
		sweepInterval:     15 * time.Minute,
		fullSweepInterval: 23 * time.Hour,
		refreshWindow:     2 * time.Hour,
	}
}

// WithIntervals sets the expiring-sweep and full-sweep periods.
func (w *Worker) WithIntervals(sweep, full time.Duration) *Worker {
	if sweep > 0 {
		w.sweepInterval = sweep
	}
	if full > 0 {
		w.fullSweepInterval = full
	}
	return w
}

// WithRefreshWindow sets how far ahead of expiry tokens are renewed.
func (w *Worker) WithRefreshWindow(d time.Duration) *Worker {
	if d > 0 {
		w.refreshWindow = d
	}
	return w
}

// Start runs both sweeps. Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting credential refresh worker",
		"sweep_interval", w.sweepInterval.String(),
		"full_sweep_interval", w.fullSweepInterval.String(),
		"refresh_window", w.refreshWindow.String(),
	)

	sweepTicker := time.NewTicker(w.sweepInterval)
	defer sweepTicker.Stop()
	fullTicker := time.NewTicker(w.fullSweepInterval)
	defer fullTicker.Stop()

	w.runExpiring(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("credential refresh worker shutting down")
			return
		case <-sweepTicker.C:
			w.runExpiring(ctx)
		case <-fullTicker.C:
			w.runFull(ctx)
		}
	}
}

// RunOnce performs a single expiring sweep.
func (w *Worker) RunOnce(ctx context.Context) (SweepReport, error) {
	return w.manager.RefreshExpiring(ctx, w.refreshWindow)
}

func (w *Worker) runExpiring(ctx context.Context) {
	if _, err := w.manager.RefreshExpiring(ctx, w.refreshWindow); err != nil {
		w.logger.Error("expiring credential sweep failed", "error", err)
	}
}

func (w *Worker) runFull(ctx context.Context) {
	if _, err := w.manager.RefreshAll(ctx); err != nil {
		w.logger.Error("full credential sweep failed", "error", err)
	}
}
