package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/basket/om/internal/audit"
	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/coordinate"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
)

// runRunCommand executes the compression tool for one transcript and writes
// the final record. With --locked it takes over a lock acquired by the
// spawning hook process; otherwise it acquires one itself. Exit is 0 unless
// the arguments are unusable.
func runRunCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	transcriptPath := fs.String("transcript", "", "transcript file to compress")
	source := fs.String("source", "claude", "agent host that produced the transcript")
	kind := fs.String("kind", string(hookevent.KindForced), "event kind that triggered the run")
	runID := fs.String("run-id", "", "correlation ID (generated if empty)")
	locked := fs.Bool("locked", false, "the spawning process already holds the transcript lock")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *transcriptPath == "" {
		fmt.Fprintln(os.Stderr, "usage: om run --transcript <path> [--source <agent>] [--locked]")
		return 2
	}
	if *runID == "" {
		*runID = uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om run: config: %v\n", err)
		return 0
	}
	logger, closer, err := telemetry.NewLogger(cfg.LogDir(), cfg.LogLevel, true)
	if err != nil {
		logger = telemetry.Discard()
	} else {
		defer closer.Close()
	}
	if err := audit.Init(cfg.LogDir(), cfg.Fingerprint()); err != nil {
		logger.Warn("audit init failed", "error", err)
	}
	defer audit.Close()

	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	if !*locked {
		acquired, err := locks.Acquire(*transcriptPath)
		if err != nil {
			logger.Warn("lock acquisition failed", "error", err)
			return 0
		}
		if !acquired {
			audit.Record(coordinate.ActionNoop, "run", *transcriptPath, coordinate.ReasonLockHeld, *runID)
			logger.Info("run already in flight", "transcript", *transcriptPath)
			return 0
		}
	}

	runner := &coordinate.Runner{
		Config: cfg,
		Store:  state.NewStore(cfg.StatePath()),
		Locks:  locks,
		Log:    logger,
	}
	_ = runner.Execute(ctx, coordinate.Request{
		Transcript: *transcriptPath,
		Source:     *source,
		Kind:       hookevent.Kind(*kind),
		RunID:      *runID,
	})
	return 0
}
