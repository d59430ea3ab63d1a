package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/basket/om/internal/audit"
	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/coordinate"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
	"github.com/basket/om/internal/transcript"
)

// scanEventName is the synthesized lifecycle event for discovered
// transcripts. It classifies as a checkpoint, so throttling applies.
const scanEventName = "TranscriptScan"

// runScanCommand discovers recently modified transcripts and feeds each one
// through the coordinator. Runs execute in-process; the command waits for
// them before exiting.
func runScanCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	source := fs.String("source", "all", "claude, codex, or all")
	maxAgeHours := fs.Int("max-age", 0, "only transcripts modified within this many hours (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	switch *source {
	case "claude", "codex", "all":
	default:
		fmt.Fprintf(os.Stderr, "om scan: unknown source %q\n", *source)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om scan: config: %v\n", err)
		return 1
	}
	logger, closer, err := telemetry.NewLogger(cfg.LogDir(), cfg.LogLevel, false)
	if err != nil {
		logger = telemetry.Discard()
	} else {
		defer closer.Close()
	}
	if err := audit.Init(cfg.LogDir(), cfg.Fingerprint()); err != nil {
		logger.Warn("audit init failed", "error", err)
	}
	defer audit.Close()

	maxAge := time.Duration(cfg.ScanMaxAgeHours) * time.Hour
	if *maxAgeHours > 0 {
		maxAge = time.Duration(*maxAgeHours) * time.Hour
	}

	store := state.NewStore(cfg.StatePath())
	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	runner := &coordinate.Runner{Config: cfg, Store: store, Locks: locks, Log: logger}
	launcher := &coordinate.GoLauncher{Runner: runner}
	coord := coordinate.New(cfg, store, locks, launcher, logger)

	n := scanTranscripts(ctx, cfg, coord, logger, *source, maxAge)
	launcher.Wait()
	logger.Info("scan finished", "transcripts", n)
	return 0
}

// scanTranscripts feeds every discovered transcript through the coordinator
// as a checkpoint event and returns how many were found. Shared between the
// scan command and the daemon's schedule.
func scanTranscripts(ctx context.Context, cfg config.Config, coord *coordinate.Coordinator, logger *slog.Logger, source string, maxAge time.Duration) int {
	type found struct {
		path   string
		source string
	}
	var all []found

	if source == "claude" || source == "all" {
		for _, p := range transcript.FindClaude(cfg.ClaudeProjectsDir, maxAge) {
			all = append(all, found{p, "claude"})
		}
	}
	if source == "codex" || source == "all" {
		for _, p := range transcript.FindCodex(cfg.CodexHome, maxAge) {
			all = append(all, found{p, "codex"})
		}
	}

	for _, f := range all {
		coord.Handle(ctx, hookevent.Event{
			HookEventName:  scanEventName,
			TranscriptPath: f.path,
			Source:         f.source,
		})
	}
	if len(all) > 0 {
		logger.Debug("scan pass", "source", source, "transcripts", len(all))
	}
	return len(all)
}
