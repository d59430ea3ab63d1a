package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/basket/om/internal/audit"
	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/coordinate"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	omotel "github.com/basket/om/internal/otel"
	"github.com/basket/om/internal/schedule"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
	"github.com/basket/om/internal/watch"
)

// runDaemonCommand is the long-running mode: an fsnotify watcher feeds
// checkpoint events for changing transcripts, a scheduler fires periodic
// scans and the daily consolidation, and runs execute in-process.
func runDaemonCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: om daemon")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om daemon: config: %v\n", err)
		return 1
	}
	logger, closer, err := telemetry.NewLogger(cfg.LogDir(), cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "om daemon: logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	if err := audit.Init(cfg.LogDir(), cfg.Fingerprint()); err != nil {
		logger.Warn("audit init failed", "error", err)
	}
	defer audit.Close()

	provider, err := omotel.Init(ctx, omotel.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
		Version:     Version,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", "error", err)
		provider, _ = omotel.Init(ctx, omotel.Config{Enabled: false})
	}
	metrics, merr := omotel.NewMetrics(provider.Meter)
	if merr != nil {
		logger.Warn("metric instruments failed", "error", merr)
	}

	store := state.NewStore(cfg.StatePath())
	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	runner := &coordinate.Runner{
		Config:  cfg,
		Store:   store,
		Locks:   locks,
		Log:     logger,
		Metrics: metrics,
		Tracer:  provider.Tracer,
	}
	launcher := &coordinate.GoLauncher{Runner: runner}
	coord := coordinate.New(cfg, store, locks, launcher, logger)
	coord.Metrics = metrics
	coord.Tracer = provider.Tracer

	watcher := watch.NewWatcher(cfg.ClaudeProjectsDir, cfg.CodexHome,
		func(ctx context.Context, ev hookevent.Event) { coord.Handle(ctx, ev) },
		logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("transcript watcher failed to start", "error", err)
		return 1
	}

	maxAge := time.Duration(cfg.ScanMaxAgeHours) * time.Hour
	sched, err := schedule.NewScheduler(schedule.Config{
		Jobs: []schedule.Job{
			{
				Name: "scan",
				Expr: cfg.ScanSchedule,
				Run: func(ctx context.Context) {
					scanTranscripts(ctx, cfg, coord, logger, "all", maxAge)
				},
			},
			{
				Name: "reflect",
				Expr: cfg.ReflectSchedule,
				Run: func(ctx context.Context) {
					runReflect(ctx, cfg, logger)
				},
			},
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("scheduler setup failed", "error", err)
		return 1
	}
	sched.Start(ctx)

	logger.Info("daemon started",
		"claude_projects", cfg.ClaudeProjectsDir,
		"codex_home", cfg.CodexHome,
		"scan_schedule", cfg.ScanSchedule,
		"reflect_schedule", cfg.ReflectSchedule,
		"config", cfg.Fingerprint(),
	)

	<-ctx.Done()
	logger.Info("daemon shutting down")

	sched.Stop()
	launcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}
	return 0
}

// runReflect invokes the compression tool's consolidation pass. The tool is a
// black box here, same as observe.
func runReflect(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	tool, err := exec.LookPath(cfg.ObserverCommand)
	if err != nil {
		logger.Warn("reflect skipped, observer tool missing", "command", cfg.ObserverCommand)
		return
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, tool, "reflect")
	if err := cmd.Run(); err != nil {
		logger.Warn("reflect run failed", "error", err, "duration", time.Since(start))
		return
	}
	logger.Info("reflect run finished", "duration", time.Since(start))
}
