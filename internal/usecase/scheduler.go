package usecase

import (
	"context"
	"time"

	"FinOracle/pkg/logger"
)

// Locker is a cluster-wide mutex. pkg/cache.RedisCache satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

const schedulerLockKey = "scheduler:leader"

// Scheduler runs the configured symbols on a fixed interval. With a Locker only
// one instance runs each tick.
type Scheduler struct {
	pipeline *Pipeline
	symbols  []string
	interval time.Duration
	locker   Locker
	log      *logger.Logger
}

// NewScheduler creates a scheduler. locker may be nil.
func NewScheduler(p *Pipeline, symbols []string, interval time.Duration, locker Locker, lgr *logger.Logger) *Scheduler {
	return &Scheduler{pipeline: p, symbols: symbols, interval: interval, locker: locker, log: lgr}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 || len(s.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	s.log.Info("scheduler started", logger.Strings("symbols", s.symbols), logger.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one round if this instance holds the lock.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, schedulerLockKey, s.interval)
		if err != nil {
			s.log.Warn("scheduler lock failed", logger.Error(err))
			return false
		}
		if !ok {
			s.log.Debug("scheduler tick skipped, another instance holds the lock")
			return false
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), schedulerLockKey); err != nil {
				s.log.Warn("scheduler unlock failed", logger.Error(err))
			}
		}()
	}

	reports, err := s.pipeline.RunMany(ctx, s.symbols)
	if err != nil {
		s.log.Warn("scheduled runs finished with failures", logger.Int("runs", len(reports)), logger.Error(err))
	}
	return true
}
