package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/basket/om/internal/audit"
	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/coordinate"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
)

// maxHookPayload bounds the stdin read; hook payloads are small JSON objects.
const maxHookPayload = 1 << 20

// runHookCommand coordinates one lifecycle event delivered on stdin. It
// always returns 0: the agent host treats a nonzero hook exit as a failure of
// the session itself, and nothing this coordinator does is worth that.
func runHookCommand(ctx context.Context, stdin io.Reader, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: om hook < event.json")
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om hook: config: %v\n", err)
		return 0
	}

	// Quiet: stdout belongs to the hook protocol and stderr is surfaced to
	// the user by some hosts. The file log gets everything.
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

	payload, err := io.ReadAll(io.LimitReader(stdin, maxHookPayload))
	if err != nil {
		logger.Warn("stdin read failed", "error", err)
		return 0
	}

	ev, err := hookevent.Decode(payload)
	if err != nil {
		audit.Record(coordinate.ActionNoop, "", "", "invalid_payload", "")
		logger.Info("invalid hook payload absorbed", "error", err)
		return 0
	}

	store := state.NewStore(cfg.StatePath())
	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	launcher := &coordinate.ExecLauncher{LogDir: cfg.LogDir()}

	coordinate.New(cfg, store, locks, launcher, logger).Handle(ctx, ev)
	return 0
}
