package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepLocker guards a sweep so one process runs it at a time
type SweepLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool)
}

// Sweeper runs the periodic trigger sweeps
type Sweeper interface {
	RunTimeDelaySweep(ctx context.Context) (int, error)
	RunScheduledSweep(ctx context.Context) (int, error)
}

// ClaimReaper returns expired worker claims to the queue
type ClaimReaper interface {
	ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error)
}

// SchedulerConfig controls sweep cadence
type SchedulerConfig struct {
	SweepInterval     time.Duration
	ScheduledInterval time.Duration
	LeaseTimeout      time.Duration
}

// Scheduler drives time_delay and scheduled sweeps plus the claim reaper on tickers
type Scheduler struct {
	sweeper Sweeper
	reaper  ClaimReaper
	locker  SweepLocker
	config  SchedulerConfig
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. locker may be nil for single-process deployments.
func NewScheduler(sweeper Sweeper, reaper ClaimReaper, locker SweepLocker, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.ScheduledInterval <= 0 {
		config.ScheduledInterval = time.Minute
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sweeper: sweeper,
		reaper:  reaper,
		locker:  locker,
		config:  config,
		logger:  logger,
	}
}

// Start runs until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()
	scheduledTicker := time.NewTicker(s.config.ScheduledInterval)
	defer scheduledTicker.Stop()

	s.logger.Info("Starting scheduler",
		zap.Duration("sweep_interval", s.config.SweepInterval),
		zap.Duration("scheduled_interval", s.config.ScheduledInterval),
	)

	s.RunSweeps(ctx)
	s.RunScheduled(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return nil
		case <-sweepTicker.C:
			s.RunSweeps(ctx)
		case <-scheduledTicker.C:
			s.RunScheduled(ctx)
		}
	}
}

// RunSweeps runs the claim reaper and the time_delay sweep once
func (s *Scheduler) RunSweeps(ctx context.Context) {
	s.locked(ctx, "reaper", s.config.SweepInterval, func(ctx context.Context) {
		if _, err := s.reaper.ReleaseExpiredClaims(ctx, s.config.LeaseTimeout); err != nil {
			s.logger.Error("Claim reaper failed", zap.Error(err))
		}
	})

	s.locked(ctx, "time_delay", s.config.SweepInterval, func(ctx context.Context) {
		fired, err := s.sweeper.RunTimeDelaySweep(ctx)
		if err != nil {
			s.logger.Error("time_delay sweep failed", zap.Int("fired", fired), zap.Error(err))
			return
		}
		if fired > 0 {
			s.logger.Info("time_delay sweep completed", zap.Int("fired", fired))
		}
	})
}

// RunScheduled runs the scheduled sweep once
func (s *Scheduler) RunScheduled(ctx context.Context) {
	s.locked(ctx, "scheduled", s.config.ScheduledInterval, func(ctx context.Context) {
		fired, err := s.sweeper.RunScheduledSweep(ctx)
		if err != nil {
			s.logger.Error("scheduled sweep failed", zap.Int("fired", fired), zap.Error(err))
			return
		}
		if fired > 0 {
			s.logger.Info("scheduled sweep completed", zap.Int("fired", fired))
		}
	})
}

func (s *Scheduler) locked(ctx context.Context, name string, ttl time.Duration, run func(context.Context)) {
	if s.locker != nil {
		release, ok := s.locker.Acquire(ctx, name, ttl)
		if !ok {
			s.logger.Debug("Sweep held by another process", zap.String("sweep", name))
			return
		}
		defer release()
	}
	run(ctx)
}
