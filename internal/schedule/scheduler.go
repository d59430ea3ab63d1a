// Package schedule provides the daemon's periodic scheduler. It evaluates
// standard 5-field cron expressions against a coarse tick and fires the
// registered jobs, catching transcripts whose hosts never delivered a
// lifecycle event.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is a named cron entry.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context)
}

// Config holds the dependencies for the scheduler.
type Config struct {
	Jobs     []Job
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires due jobs on each tick. Jobs fire once at startup and then
// follow their cron expression.
type Scheduler struct {
	entries  []*entry
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	name  string
	sched cronlib.Schedule
	next  time.Time
	run   func(ctx context.Context)
}

// NewScheduler parses every job's expression up front so a bad schedule is
// reported at daemon startup, not at the first missed fire. Jobs with an
// empty expression are dropped.
func NewScheduler(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}

	var entries []*entry
	for _, job := range cfg.Jobs {
		if job.Expr == "" {
			continue
		}
		sched, err := cronParser.Parse(job.Expr)
		if err != nil {
			return nil, fmt.Errorf("schedule: job %q: parse %q: %w", job.Name, job.Expr, err)
		}
		entries = append(entries, &entry{name: job.Name, sched: sched, run: job.Run})
	}

	return &Scheduler{
		entries:  entries,
		logger:   logger,
		interval: interval,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	now := time.Now()
	for _, e := range s.entries {
		// Due at startup: a daemon that was down through a scheduled fire
		// catches up on its first tick.
		e.next = now
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "jobs", len(s.entries), "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick fires every job whose next run time has arrived.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		e.next = e.sched.Next(now)
		s.logger.Info("schedule fired", "job", e.name, "next_run_at", e.next)
		e.run(ctx)
	}
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
