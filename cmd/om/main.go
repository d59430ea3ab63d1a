package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

HOOK ENTRYPOINTS:
  %s hook                     Coordinate one lifecycle event (JSON on stdin);
                              always exits 0
  %s context                  Emit SessionStart additionalContext JSON built
                              from the memory files

COORDINATION:
  %s run [options]            Run the compression tool for one transcript
                              Options: --transcript <path> --source <agent>
                              [--kind forced|checkpoint] [--run-id <id>]
                              [--locked]
  %s scan [options]           Coordinate recently modified transcripts
                              Options: --source claude|codex|all, --max-age <hours>
  %s daemon                   Long-running mode: scheduled scans, daily
                              consolidation, transcript watching

INSPECTION:
  %s status [-json]           Show tracked transcripts, locks, and settings
  %s doctor [-json]           Run diagnostic checks

ENVIRONMENT VARIABLES:
  OM_HOME                     Root for config, data, and state
  OM_OBSERVER_COMMAND         Compression tool (default: om-llm)
  OM_THROTTLE_SECONDS         Checkpoint throttle window (default: 900, 0 off)
  OM_STALE_LOCK_MINUTES       Stale lock reclamation age (default: 60, 0 off)
  OM_DISABLE_CHECKPOINTS      Set to 1 to coordinate only terminal events
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(os.Args[1])) {
	case "help", "-h", "--help":
		printUsage()
	case "hook":
		os.Exit(runHookCommand(ctx, os.Stdin, os.Args[2:]))
	case "run":
		os.Exit(runRunCommand(ctx, os.Args[2:]))
	case "scan":
		os.Exit(runScanCommand(ctx, os.Args[2:]))
	case "daemon":
		os.Exit(runDaemonCommand(ctx, os.Args[2:]))
	case "status":
		os.Exit(runStatusCommand(os.Args[2:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, os.Args[2:]))
	case "context":
		os.Exit(runContextCommand(os.Stdout))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}
