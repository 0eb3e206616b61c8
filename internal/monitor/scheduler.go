package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs monitoring cycles on a fixed interval or a cron
// schedule. Cycles never overlap: a tick that arrives while a cycle is
// still in flight is skipped.
type Scheduler struct {
	monitor  *Monitor
	interval time.Duration
	schedule string
	logger   *slog.Logger
	running  atomic.Bool
}

// NewScheduler creates a scheduler. A non-empty cron schedule takes
// precedence over the interval.
func NewScheduler(m *Monitor, interval time.Duration, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		monitor:  m,
		interval: interval,
		schedule: schedule,
		logger:   logger,
	}
}

// Run blocks until the context is canceled, running cycles as they
// come due. Cycle errors are logged, not returned; only an invalid
// cron schedule fails Run.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.schedule != "" {
		return s.runCron(ctx)
	}
	return s.runTicker(ctx)
}

func (s *Scheduler) runCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("cron schedule %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduler started", "schedule", s.schedule)
	c.Start()
	<-ctx.Done()
	// Stop returns a context that closes once running jobs finish.
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runTicker(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval.String())
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous cycle still in flight, skipping tick")
		return
	}
	defer s.running.Store(false)

	if err := s.monitor.Cycle(ctx); err != nil {
		s.logger.Error("cycle failed", "error", err)
	}
}
