package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc performs one discovery run.
type RunFunc func(ctx context.Context) error

// Scheduler owns the daemon loop: one immediate run, then one run per cron tick.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	run      RunFunc
	logger   *slog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates spec (standard 5-field cron or a descriptor such as
// "@every 3h") and returns a scheduler invoking run on it.
func NewScheduler(spec string, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, schedule: schedule, run: run, logger: logger}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled and returns nil on graceful shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", "schedule", s.spec, "next", s.Next(time.Now()).Format(time.RFC3339))

	// Run one immediate cycle.
	s.runOnce(ctx)

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(ctx) }))
	c.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return
	}
	s.logger.Debug("scheduled run finished", "duration", time.Since(start).Round(time.Millisecond))
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
