package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// launchRequest is one queued campaign launch
type launchRequest struct {
	campaignID int64
	relaunch   bool
}

// Launcher runs campaign dispatches on a bounded worker pool. Triggers
// (API handlers, the scheduler) enqueue and return immediately; the
// actual run happens on one of the workers.
type Launcher struct {
	sender  *Sender
	workers int
	logger  *slog.Logger

	jobs   chan launchRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// LauncherConfig contains worker pool settings
type LauncherConfig struct {
	Workers   int
	QueueSize int
}

// NewLauncher creates a campaign launcher
func NewLauncher(sender *Sender, cfg LauncherConfig, logger *slog.Logger) *Launcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Launcher{
		sender:  sender,
		workers: cfg.Workers,
		logger:  logger,
		jobs:    make(chan launchRequest, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the launcher workers
func (l *Launcher) Start(ctx context.Context) {
	l.logger.Info("starting campaign launcher", "workers", l.workers)

	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker(ctx, i)
	}
}

// Stop stops accepting launches and waits for in-flight runs, up to
// timeout.
func (l *Launcher) Stop(timeout time.Duration) {
	l.logger.Info("stopping campaign launcher")
	close(l.stopCh)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("campaign launcher stopped")
	case <-time.After(timeout):
		l.logger.Warn("campaign launcher stop timed out", "timeout", timeout)
	}
}

// Enqueue queues a campaign launch. Blocks only while the queue is
// full; the dispatch run itself is asynchronous.
func (l *Launcher) Enqueue(campaignID int64, relaunch bool) {
	l.jobs <- launchRequest{campaignID: campaignID, relaunch: relaunch}
}

func (l *Launcher) worker(ctx context.Context, id int) {
	defer l.wg.Done()

	logger := l.logger.With("worker_id", id)
	logger.Debug("launcher worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("launcher worker stopped by context")
			return
		case <-l.stopCh:
			logger.Debug("launcher worker stopped by signal")
			return
		case req := <-l.jobs:
			l.sender.ExecuteCampaign(ctx, req.campaignID, req.relaunch)
		}
	}
}
