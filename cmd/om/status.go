package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/state"
)

type statusReport struct {
	Version         string                  `json:"version"`
	StateDir        string                  `json:"state_dir"`
	DataDir         string                  `json:"data_dir"`
	ObserverCommand string                  `json:"observer_command"`
	ThrottleSeconds int                     `json:"throttle_window_seconds"`
	StaleLockMins   int                     `json:"stale_lock_minutes"`
	ConfigHash      string                  `json:"config_hash"`
	Transcripts     map[string]state.Record `json:"transcripts"`
	Locks           []lockdir.HeldLock      `json:"locks"`
}

// runStatusCommand prints the persisted progress records, live locks, and the
// effective coordination settings.
func runStatusCommand(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "machine-readable output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om status: config: %v\n", err)
		return 1
	}

	report := statusReport{
		Version:         Version,
		StateDir:        cfg.StateDir,
		DataDir:         cfg.DataDir,
		ObserverCommand: cfg.ObserverCommand,
		ThrottleSeconds: cfg.ThrottleWindowSeconds,
		StaleLockMins:   cfg.StaleLockMinutes,
		ConfigHash:      cfg.Fingerprint(),
		Transcripts:     state.NewStore(cfg.StatePath()).All(),
		Locks:           lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter()).List(),
	}

	// Pipelines get JSON without asking.
	if *jsonOutput || !isatty.IsTerminal(os.Stdout.Fd()) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "om status: encode: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("om %s (%s)\n", report.Version, report.ConfigHash)
	fmt.Printf("state: %s\n", report.StateDir)
	fmt.Printf("observer: %s, throttle %ds, stale locks %dm\n",
		report.ObserverCommand, report.ThrottleSeconds, report.StaleLockMins)
	fmt.Println("---")

	if len(report.Transcripts) == 0 {
		fmt.Println("no transcripts tracked yet")
	} else {
		refs := make([]string, 0, len(report.Transcripts))
		for ref := range report.Transcripts {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			rec := report.Transcripts[ref]
			fmt.Printf("%-11s %5d msgs  %s  %s\n",
				rec.Status, rec.MessageCount, humanAge(rec.LastObserved), ref)
		}
	}

	if len(report.Locks) > 0 {
		fmt.Println("---")
		for _, l := range report.Locks {
			suffix := ""
			if l.Stale {
				suffix = " (stale)"
			}
			fmt.Printf("locked: %s pid=%d since %s%s\n", l.Ref, l.PID, humanAge(l.CreatedAt), suffix)
		}
	}
	return 0
}

func humanAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
