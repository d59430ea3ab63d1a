package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setTestHome points OM_HOME at a temp dir so commands never touch the real
// config, data, or state trees.
func setTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("OM_HOME", home)
	return home
}

func TestRunHookCommand_InvalidPayloadExitsZero(t *testing.T) {
	setTestHome(t)

	code := runHookCommand(context.Background(), strings.NewReader("{not json"), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunHookCommand_EmptyStdinExitsZero(t *testing.T) {
	setTestHome(t)

	code := runHookCommand(context.Background(), strings.NewReader(""), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunHookCommand_ObserverMissingLeavesNoRecord(t *testing.T) {
	home := setTestHome(t)
	t.Setenv("OM_OBSERVER_COMMAND", "om-test-tool-that-does-not-exist")

	transcript := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(transcript, []byte(`{"type":"user","message":{"role":"user"}}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(map[string]string{
		"hook_event_name": "Stop",
		"transcript_path": transcript,
	})

	code := runHookCommand(context.Background(), bytes.NewReader(payload), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
	if _, err := os.Stat(filepath.Join(home, "state", "state.json")); !os.IsNotExist(err) {
		t.Error("a no-op must not create a state record")
	}
}

func TestRunRunCommand_MissingTranscript(t *testing.T) {
	setTestHome(t)

	code := runRunCommand(context.Background(), nil)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunScanCommand_UnknownSource(t *testing.T) {
	setTestHome(t)

	code := runScanCommand(context.Background(), []string{"-source", "gemini"})
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunScanCommand_EmptyTreesExitZero(t *testing.T) {
	setTestHome(t)
	t.Setenv("OM_CLAUDE_PROJECTS_DIR", filepath.Join(t.TempDir(), "projects"))
	t.Setenv("OM_CODEX_HOME", filepath.Join(t.TempDir(), "codex"))

	code := runScanCommand(context.Background(), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunContextCommand_EmitsMemory(t *testing.T) {
	home := setTestHome(t)
	dataDir := filepath.Join(home, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "reflections.md"), []byte("- prefers tabs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "observations.md"), []byte("- ran the linter\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if code := runContextCommand(&buf); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	var out hookOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if out.HookSpecificOutput.HookEventName != "SessionStart" {
		t.Errorf("hookEventName = %q", out.HookSpecificOutput.HookEventName)
	}
	ctx := out.HookSpecificOutput.AdditionalContext
	if !strings.Contains(ctx, "prefers tabs") || !strings.Contains(ctx, "ran the linter") {
		t.Errorf("context missing memory content:\n%s", ctx)
	}
}

func TestRunContextCommand_NoMemoryNoOutput(t *testing.T) {
	setTestHome(t)

	var buf bytes.Buffer
	if code := runContextCommand(&buf); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestReadTailTruncatesAtLineBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations.md")
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString("- observation line\n")
	}
	b.WriteString("- the last line\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	got := readTail(path, 1024)
	if len(got) > 1024+64 {
		t.Fatalf("tail too long: %d bytes", len(got))
	}
	if !strings.HasPrefix(got, "(earlier entries truncated)\n") {
		t.Errorf("missing truncation marker: %q", got[:40])
	}
	if !strings.Contains(got, "the last line") {
		t.Error("tail must keep the newest content")
	}
}

func TestHumanAge(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{time.Now().Add(-30 * time.Second), "30s ago"},
		{time.Now().Add(-5 * time.Minute), "5m ago"},
		{time.Now().Add(-3 * time.Hour), "3h ago"},
		{time.Now().Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := humanAge(tt.t); got != tt.want {
			t.Errorf("humanAge(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
