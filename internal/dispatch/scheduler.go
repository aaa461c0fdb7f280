package dispatch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/metrics"
)

// schedulerLockName is shared by every instance; whoever holds it runs
// the tick.
const schedulerLockName = "campaign_scheduler"

// Scheduler launches scheduled campaigns when their time arrives. Each
// tick takes a cross-instance lock first, so with several instances
// running only one of them scans for due campaigns.
type Scheduler struct {
	campaigns CampaignStore
	locks     LockStore
	launcher  *Launcher
	metrics   *metrics.Metrics
	interval  time.Duration
	lockTTL   time.Duration
	holder    string
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SchedulerConfig contains scheduler settings
type SchedulerConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// NewScheduler creates a campaign scheduler
func NewScheduler(campaigns CampaignStore, locks LockStore, launcher *Launcher, met *metrics.Metrics,
	cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}

	hostname, _ := os.Hostname()
	return &Scheduler{
		campaigns: campaigns,
		locks:     locks,
		launcher:  launcher,
		metrics:   met,
		interval:  cfg.Interval,
		lockTTL:   cfg.LockTTL,
		holder:    hostname + "-" + uuid.NewString()[:8],
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the scheduler loop
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting campaign scheduler", "interval", s.interval, "holder", s.holder)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(time.Now())
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("campaign scheduler stopped")
}

// tick runs one scheduling pass under the cross-instance lock
func (s *Scheduler) tick(now time.Time) {
	ok, err := s.locks.Acquire(schedulerLockName, s.holder, s.lockTTL)
	if err != nil {
		s.logger.Error("failed to acquire scheduler lock", "error", err)
		s.metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		return
	}
	if !ok {
		// Another instance owns this tick.
		s.logger.Debug("scheduler lock held elsewhere")
		s.metrics.SchedulerTicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer func() {
		if err := s.locks.Release(schedulerLockName, s.holder); err != nil {
			s.logger.Error("failed to release scheduler lock", "error", err)
		}
	}()

	due, err := s.campaigns.FindDue(now)
	if err != nil {
		s.logger.Error("failed to find due campaigns", "error", err)
		s.metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		return
	}

	for _, c := range due {
		s.logger.Info("launching scheduled campaign", "campaign_id", c.ID, "scheduled_at", c.ScheduledAt)
		s.launcher.Enqueue(c.ID, false)
	}
	s.metrics.SchedulerTicksTotal.WithLabelValues("acquired").Inc()
}
