package coordinate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/throttle"
)

type fakeLauncher struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (f *fakeLauncher) Launch(_ context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeLauncher) launched() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.reqs...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DataDir:               filepath.Join(dir, "data"),
		StateDir:              filepath.Join(dir, "state"),
		ObserverCommand:       "om-llm",
		ThrottleWindowSeconds: 900,
		StaleLockMinutes:      60,
	}
}

func writeTranscript(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const threeMessages = `{"type":"user","message":{"role":"user","content":"a"}}
{"type":"assistant","message":{"role":"assistant","content":"b"}}
{"type":"user","message":{"role":"user","content":"c"}}
`

func newTestCoordinator(t *testing.T, cfg config.Config, launcher Launcher) (*Coordinator, *state.Store, *lockdir.Manager) {
	t.Helper()
	store := state.NewStore(cfg.StatePath())
	locks := lockdir.NewManager(cfg.LockRoot(), cfg.StaleLockAfter())
	c := New(cfg, store, locks, launcher, nil)
	c.lookPath = func(string) (string, error) { return "/usr/bin/om-llm", nil }
	return c, store, locks
}

func TestHandleForcedEventLaunchesRun(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, store, locks := newTestCoordinator(t, cfg, launcher)

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "SessionEnd",
		TranscriptPath: path,
		Source:         "claude",
	})
	if d.Action != ActionRun {
		t.Fatalf("Action = %q (%s), want run", d.Action, d.Reason)
	}
	if d.Reason != throttle.ReasonForced {
		t.Errorf("Reason = %q, want forced", d.Reason)
	}
	if d.RunID == "" {
		t.Error("expected a run ID")
	}

	reqs := launcher.launched()
	if len(reqs) != 1 {
		t.Fatalf("launched %d runs, want 1", len(reqs))
	}
	if reqs[0].Transcript != path || reqs[0].Source != "claude" || reqs[0].Kind != hookevent.KindForced {
		t.Errorf("unexpected request: %+v", reqs[0])
	}

	rec, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != state.StatusInProgress {
		t.Errorf("status = %q, want in_progress", rec.Status)
	}
	if rec.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", rec.MessageCount)
	}
	// The launcher owns the lock until the run finishes.
	if !locks.Held(path) {
		t.Error("lock should still be held after launch")
	}
}

func TestHandleTranscriptMissing(t *testing.T) {
	cfg := testConfig(t)
	launcher := &fakeLauncher{}
	c, _, _ := newTestCoordinator(t, cfg, launcher)

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "Stop",
		TranscriptPath: filepath.Join(t.TempDir(), "absent.jsonl"),
	})
	if d.Action != ActionNoop || d.Reason != ReasonTranscriptMissing {
		t.Fatalf("got %+v, want noop/transcript_missing", d)
	}
	if len(launcher.launched()) != 0 {
		t.Error("nothing should have launched")
	}
}

func TestHandleObserverMissing(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, _, locks := newTestCoordinator(t, cfg, launcher)
	c.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "Stop",
		TranscriptPath: path,
	})
	if d.Action != ActionNoop || d.Reason != ReasonObserverMissing {
		t.Fatalf("got %+v, want noop/observer_missing", d)
	}
	if locks.Held(path) {
		t.Error("no lock should be held")
	}
}

func TestHandleCheckpointsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisableCheckpoints = true
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, _, _ := newTestCoordinator(t, cfg, launcher)

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "UserPromptSubmit",
		TranscriptPath: path,
	})
	if d.Action != ActionNoop || d.Reason != ReasonCheckpointsOff {
		t.Fatalf("got %+v, want noop/checkpoints_disabled", d)
	}

	// Forced events are exempt from the disablement.
	d = c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "SessionEnd",
		TranscriptPath: path,
	})
	if d.Action != ActionRun {
		t.Fatalf("forced event got %+v, want run", d)
	}
}

func TestHandleLockHeldNoops(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, _, locks := newTestCoordinator(t, cfg, launcher)

	if ok, err := locks.Acquire(path); err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%t err=%v", ok, err)
	}

	// Even a forced event defers to an in-flight run.
	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "SessionEnd",
		TranscriptPath: path,
	})
	if d.Action != ActionNoop || d.Reason != ReasonLockHeld {
		t.Fatalf("got %+v, want noop/lock_held", d)
	}
	if len(launcher.launched()) != 0 {
		t.Error("nothing should have launched")
	}
}

func TestHandleDuplicateDeliverySkipsOnNoGrowth(t *testing.T) {
	cfg := testConfig(t)
	cfg.ThrottleWindowSeconds = 0 // isolate the growth rule
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, store, locks := newTestCoordinator(t, cfg, launcher)

	observed := time.Now().Add(-time.Hour)
	if err := store.Write(path, observed, 3, state.StatusSuccess); err != nil {
		t.Fatal(err)
	}

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "UserPromptSubmit",
		TranscriptPath: path,
	})
	if d.Action != ActionSkip || d.Reason != throttle.ReasonNoGrowth {
		t.Fatalf("got %+v, want skip/no_growth", d)
	}
	if locks.Held(path) {
		t.Error("skip must release the lock")
	}

	// The skip records its status but keeps the prior cursor, so later
	// growth is still measured against the last real run.
	rec, err := store.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != state.StatusSkipped {
		t.Errorf("status = %q, want skipped", rec.Status)
	}
	if rec.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", rec.MessageCount)
	}
	if !rec.LastObserved.Equal(observed.UTC()) {
		t.Errorf("last_observed advanced: %v, want %v", rec.LastObserved, observed.UTC())
	}
}

func TestHandleThrottleWindowSkips(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, store, _ := newTestCoordinator(t, cfg, launcher)

	// Count grew past the prior, but the last run was a second ago.
	if err := store.Write(path, time.Now().Add(-time.Second), 1, state.StatusSuccess); err != nil {
		t.Fatal(err)
	}

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "UserPromptSubmit",
		TranscriptPath: path,
	})
	if d.Action != ActionSkip || d.Reason != throttle.ReasonTooSoon {
		t.Fatalf("got %+v, want skip/too_soon", d)
	}
}

func TestHandleForcedBypassesThrottle(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, store, _ := newTestCoordinator(t, cfg, launcher)

	// Same count, moments ago: both skip rules would fire for a checkpoint.
	if err := store.Write(path, time.Now(), 3, state.StatusSuccess); err != nil {
		t.Fatal(err)
	}

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "Stop",
		TranscriptPath: path,
	})
	if d.Action != ActionRun || d.Reason != throttle.ReasonForced {
		t.Fatalf("got %+v, want run/forced", d)
	}
}

func TestHandleLaunchFailureReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{err: errors.New("fork failed")}
	c, store, locks := newTestCoordinator(t, cfg, launcher)

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "SessionEnd",
		TranscriptPath: path,
	})
	if d.Action != ActionNoop || d.Reason != ReasonLaunchError {
		t.Fatalf("got %+v, want noop/launch_error", d)
	}
	if locks.Held(path) {
		t.Error("launch failure must release the lock")
	}
	rec, err := store.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != state.StatusFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
}

func TestHandleEmptyEventNameTreatedAsForced(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisableCheckpoints = true
	path := writeTranscript(t, threeMessages)
	launcher := &fakeLauncher{}
	c, _, _ := newTestCoordinator(t, cfg, launcher)

	d := c.Handle(context.Background(), hookevent.Event{
		HookEventName:  "",
		TranscriptPath: path,
	})
	if d.Action != ActionRun || d.Reason != throttle.ReasonForced {
		t.Fatalf("got %+v, want run/forced", d)
	}
}
