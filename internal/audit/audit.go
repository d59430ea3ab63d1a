// Package audit keeps an append-only JSONL trail of coordination decisions.
// Concurrent hook processes append to the same file; entries are single
// writes under O_APPEND so interleaving is line-safe.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/om/internal/shared"
)

type entry struct {
	Timestamp  string `json:"timestamp"`
	Decision   string `json:"decision"` // "run", "skip", "noop"
	Event      string `json:"event"`
	Transcript string `json:"transcript"`
	Reason     string `json:"reason"`
	RunID      string `json:"run_id,omitempty"`
	ConfigHash string `json:"config,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	configHash string
	skipCount  atomic.Int64
)

// Init opens <logDir>/audit.jsonl for appending. Idempotent; failures leave
// auditing disabled rather than erroring, since the trail is best-effort.
func Init(logDir, cfgHash string) error {
	mu.Lock()
	defer mu.Unlock()
	configHash = cfgHash
	if file != nil {
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// SkipCount returns the total number of skip decisions since startup.
func SkipCount() int64 {
	return skipCount.Load()
}

// Record appends one decision. Safe to call before Init; it is then a no-op.
func Record(decision, event, transcript, reason, runID string) {
	if decision == "skip" {
		skipCount.Add(1)
	}

	reason = shared.Redact(reason)
	transcript = shared.Redact(transcript)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Decision:   decision,
		Event:      event,
		Transcript: transcript,
		Reason:     reason,
		RunID:      runID,
		ConfigHash: configHash,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
