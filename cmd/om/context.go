package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/basket/om/internal/config"
)

// maxMemoryBytes caps how much of each memory file is injected into the
// session. Newest content lives at the end of both files, so the tail wins.
const maxMemoryBytes = 48 * 1024

type hookOutput struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// runContextCommand emits the SessionStart hook response carrying the memory
// files as additional context. No memory yet means no output; either way the
// exit code is 0 so the session start is never blocked.
func runContextCommand(out io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om context: config: %v\n", err)
		return 0
	}

	reflections := readTail(cfg.ReflectionsPath(), maxMemoryBytes)
	observations := readTail(cfg.ObservationsPath(), maxMemoryBytes)
	if reflections == "" && observations == "" {
		return 0
	}

	var b strings.Builder
	b.WriteString("# Memory\n")
	if reflections != "" {
		b.WriteString("\n## Reflections\n\n")
		b.WriteString(reflections)
	}
	if observations != "" {
		b.WriteString("\n## Recent observations\n\n")
		b.WriteString(observations)
	}

	payload := hookOutput{
		HookSpecificOutput: hookSpecificOutput{
			HookEventName:     "SessionStart",
			AdditionalContext: b.String(),
		},
	}
	if err := json.NewEncoder(out).Encode(payload); err != nil {
		fmt.Fprintf(os.Stderr, "om context: encode: %v\n", err)
	}
	return 0
}

// readTail returns up to max bytes from the end of path, cut at a line
// boundary. Missing files read as empty.
func readTail(path string, max int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(data))
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 {
		cut = cut[i+1:]
	}
	return "(earlier entries truncated)\n" + cut
}
