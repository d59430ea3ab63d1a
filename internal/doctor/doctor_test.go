package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/state"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DataDir:               filepath.Join(dir, "data"),
		StateDir:              filepath.Join(dir, "state"),
		ClaudeProjectsDir:     filepath.Join(dir, "projects"),
		CodexHome:             filepath.Join(dir, "codex"),
		ObserverCommand:       "om-llm",
		ThrottleWindowSeconds: 900,
		StaleLockMinutes:      60,
		ScanSchedule:          "*/15 * * * *",
		ReflectSchedule:       "0 4 * * *",
		ScanMaxAgeHours:       24,
	}
}

func resultFor(t *testing.T, d Diagnosis, name string) CheckResult {
	t.Helper()
	for _, res := range d.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("no %q result in %+v", name, d.Results)
	return CheckResult{}
}

func TestRunProducesAllChecks(t *testing.T) {
	cfg := testConfig(t)
	d := Run(context.Background(), cfg, "test")

	if len(d.Results) != 6 {
		t.Fatalf("got %d results, want 6", len(d.Results))
	}
	if d.System.OS == "" || d.System.Go == "" {
		t.Error("system info not populated")
	}
	if res := resultFor(t, d, "Schedules"); res.Status != "PASS" {
		t.Errorf("Schedules = %s, want PASS", res.Status)
	}
}

func TestCheckObserverMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObserverCommand = "definitely-not-installed-tool"

	res := checkObserver(context.Background(), cfg)
	if res.Status != "FAIL" {
		t.Fatalf("status = %s, want FAIL", res.Status)
	}
}

func TestCheckStateStoreCorrupt(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.StatePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := checkStateStore(context.Background(), cfg)
	if res.Status != "WARN" {
		t.Fatalf("status = %s, want WARN for a corrupt store", res.Status)
	}
}

func TestCheckStateStoreCountsRecords(t *testing.T) {
	cfg := testConfig(t)
	store := state.NewStore(cfg.StatePath())
	if err := store.Write("/tmp/a.jsonl", time.Now(), 3, state.StatusSuccess); err != nil {
		t.Fatal(err)
	}

	res := checkStateStore(context.Background(), cfg)
	if res.Status != "PASS" {
		t.Fatalf("status = %s, want PASS", res.Status)
	}
	if res.Message != "1 transcript record(s)" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestCheckSchedulesRejectsBadExpr(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReflectSchedule = "every day at four"

	res := checkSchedules(context.Background(), cfg)
	if res.Status != "FAIL" {
		t.Fatalf("status = %s, want FAIL", res.Status)
	}
}

func TestCheckTranscriptsWarnsWhenEmpty(t *testing.T) {
	cfg := testConfig(t)
	res := checkTranscripts(context.Background(), cfg)
	if res.Status != "WARN" {
		t.Fatalf("status = %s, want WARN with no transcripts", res.Status)
	}
}
