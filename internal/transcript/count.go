// Package transcript counts addressable message units in agent transcripts
// and discovers recently modified transcript files. The count is a progress
// cursor: its absolute value only matters for comparison against a prior
// count, so parsing degrades to 0 instead of erroring. Callers treat 0 as
// "no confirmed progress".
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// Scanner buffer cap. Claude Code lines carry full tool results and can run
// to several megabytes.
const maxLineBytes = 16 * 1024 * 1024

// Count returns the number of user/assistant message units in the transcript
// at path. Two encodings are accepted: JSONL with one message or wrapper
// object per line, and a single JSON document holding an array of message
// entries directly or under a nested field. Unreadable or malformed input
// counts as 0.
func Count(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return countBytes(data)
}

func countBytes(data []byte) int {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0
	}

	// A whole-document parse handles both the single-document encoding and
	// single-line JSONL; try it first.
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		if n, ok := countDocument(doc); ok {
			return n
		}
	}

	return countLines(trimmed)
}

// countLines handles the JSON-value-per-line encoding. Unparseable lines are
// skipped, not fatal: transcripts are appended to live and the last line may
// be torn.
func countLines(data string) int {
	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if isMessageUnit(entry) {
			count++
		}
	}
	return count
}

// countDocument handles a single JSON document: either an array of
// message-like entries, or an object with a nested array field.
func countDocument(doc any) (int, bool) {
	switch v := doc.(type) {
	case []any:
		return countEntries(v), true
	case map[string]any:
		for _, field := range []string{"messages", "items", "entries", "history"} {
			if arr, ok := v[field].([]any); ok {
				return countEntries(arr), true
			}
		}
		// A single message object on one line is still one line of JSONL.
		if isMessageUnit(v) {
			return 1, true
		}
	}
	return 0, false
}

func countEntries(entries []any) int {
	count := 0
	for _, e := range entries {
		if entry, ok := e.(map[string]any); ok && isMessageUnit(entry) {
			count++
		}
	}
	return count
}

// isMessageUnit reports whether the entry is a user or assistant message,
// however the role is nested. Claude Code wraps the message under "message"
// with a top-level "type"; Codex entries carry "role" directly or under a
// nested "message". Tool, system, and progress entries are excluded.
func isMessageUnit(entry map[string]any) bool {
	if meta, ok := entry["isMeta"].(bool); ok && meta {
		return false
	}

	if role, ok := entry["role"].(string); ok {
		return isConversationalRole(role)
	}

	if msg, ok := entry["message"].(map[string]any); ok {
		if role, ok := msg["role"].(string); ok && isConversationalRole(role) {
			// Claude Code duplicates the role as the entry type; when the
			// type disagrees (e.g. "progress"), the entry is not a turn.
			if t, ok := entry["type"].(string); ok {
				return isConversationalRole(t)
			}
			return true
		}
	}
	return false
}

func isConversationalRole(role string) bool {
	return role == "user" || role == "assistant"
}
