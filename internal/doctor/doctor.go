// Package doctor runs diagnostic checks over the coordinator's environment:
// directories, the observer tool, the state store, the lock tree, and the
// transcript sources.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/schedule"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/transcript"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, config.Config) CheckResult{
		checkDirs,
		checkObserver,
		checkStateStore,
		checkLocks,
		checkTranscripts,
		checkSchedules,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkDirs(_ context.Context, cfg config.Config) CheckResult {
	for _, dir := range []string{cfg.StateDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{
				Name:    "Directories",
				Status:  "FAIL",
				Message: fmt.Sprintf("cannot create %s", dir),
				Detail:  err.Error(),
			}
		}
	}
	return CheckResult{Name: "Directories", Status: "PASS",
		Message: fmt.Sprintf("state %s, data %s", cfg.StateDir, cfg.DataDir)}
}

func checkObserver(_ context.Context, cfg config.Config) CheckResult {
	path, err := exec.LookPath(cfg.ObserverCommand)
	if err != nil {
		return CheckResult{
			Name:    "Observer tool",
			Status:  "FAIL",
			Message: fmt.Sprintf("%q not found on PATH", cfg.ObserverCommand),
			Detail:  "every event will no-op until the tool is installed",
		}
	}
	return CheckResult{Name: "Observer tool", Status: "PASS", Message: path}
}

func checkStateStore(_ context.Context, cfg config.Config) CheckResult {
	data, err := os.ReadFile(cfg.StatePath())
	if os.IsNotExist(err) {
		return CheckResult{Name: "State store", Status: "PASS", Message: "absent (fresh install)"}
	}
	if err != nil {
		return CheckResult{Name: "State store", Status: "WARN",
			Message: "unreadable; records are treated as absent", Detail: err.Error()}
	}
	var records map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return CheckResult{Name: "State store", Status: "WARN",
			Message: "corrupt; records are treated as absent until the next write", Detail: err.Error()}
	}
	store := state.NewStore(cfg.StatePath())
	return CheckResult{Name: "State store", Status: "PASS",
		Message: fmt.Sprintf("%d transcript record(s)", len(store.All()))}
}

func checkLocks(_ context.Context, cfg config.Config) CheckResult {
	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	held := locks.List()
	stale := 0
	for _, l := range held {
		if l.Stale {
			stale++
		}
	}
	if stale > 0 {
		return CheckResult{
			Name:    "Locks",
			Status:  "WARN",
			Message: fmt.Sprintf("%d held, %d stale", len(held), stale),
			Detail:  "stale markers are reclaimed on the next event for their transcript",
		}
	}
	return CheckResult{Name: "Locks", Status: "PASS", Message: fmt.Sprintf("%d held", len(held))}
}

func checkTranscripts(_ context.Context, cfg config.Config) CheckResult {
	maxAge := time.Duration(cfg.ScanMaxAgeHours) * time.Hour
	claude := transcript.FindClaude(cfg.ClaudeProjectsDir, maxAge)
	codex := transcript.FindCodex(cfg.CodexHome, maxAge)
	if len(claude) == 0 && len(codex) == 0 {
		return CheckResult{
			Name:    "Transcripts",
			Status:  "WARN",
			Message: fmt.Sprintf("no transcripts modified in the last %dh", cfg.ScanMaxAgeHours),
			Detail:  fmt.Sprintf("looked in %s and %s", cfg.ClaudeProjectsDir, cfg.CodexHome),
		}
	}
	return CheckResult{Name: "Transcripts", Status: "PASS",
		Message: fmt.Sprintf("%d claude, %d codex (last %dh)", len(claude), len(codex), cfg.ScanMaxAgeHours)}
}

func checkSchedules(_ context.Context, cfg config.Config) CheckResult {
	for _, expr := range []string{cfg.ScanSchedule, cfg.ReflectSchedule} {
		if expr == "" {
			continue
		}
		if _, err := schedule.NextRunTime(expr, time.Now()); err != nil {
			return CheckResult{
				Name:    "Schedules",
				Status:  "FAIL",
				Message: fmt.Sprintf("invalid cron expression %q", expr),
				Detail:  err.Error(),
			}
		}
	}
	return CheckResult{Name: "Schedules", Status: "PASS",
		Message: fmt.Sprintf("scan %q, reflect %q", cfg.ScanSchedule, cfg.ReflectSchedule)}
}
