// Package lockdir provides per-transcript mutual exclusion across processes
// using directory creation as the atomic primitive. Acquirers may be entirely
// separate short-lived processes, so no in-process state is relied upon:
// existence of the marker directory is the lock.
package lockdir

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Manager coordinates locks under a single root directory, one marker
// directory per sanitized transcript ref.
type Manager struct {
	root string
	// staleAfter is the age past which an unreleased marker is presumed
	// abandoned. Zero disables reclamation.
	staleAfter time.Duration

	reclaims atomic.Int64
}

func NewManager(root string, staleAfter time.Duration) *Manager {
	return &Manager{root: root, staleAfter: staleAfter}
}

// meta is written inside the marker for diagnostics only; the directory's
// existence is the lock.
type meta struct {
	PID       int    `json:"pid"`
	Ref       string `json:"ref"`
	CreatedAt string `json:"created_at"`
}

// Acquire attempts to take the lock for ref. It returns false when another
// live holder exists. A marker older than the staleness threshold is removed
// and creation retried once, so a holder that died without releasing blocks
// future acquisition for at most the staleness window.
func (m *Manager) Acquire(ref string) (bool, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return false, fmt.Errorf("lockdir: create root: %w", err)
	}

	path := m.markerPath(ref)
	err := os.Mkdir(path, 0o755)
	if err == nil {
		m.writeMeta(path, ref)
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("lockdir: create marker: %w", err)
	}

	if m.staleAfter <= 0 {
		return false, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		// Marker vanished between Mkdir and Stat: a concurrent holder
		// released or reclaimed. Do not retry; the event that observed
		// contention simply no-ops.
		return false, nil
	}
	if time.Since(info.ModTime()) < m.staleAfter {
		return false, nil
	}

	// Stale: the previous holder is presumed dead. Remove and retry once.
	if err := os.RemoveAll(path); err != nil {
		return false, nil
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return false, nil
	}
	m.reclaims.Add(1)
	m.writeMeta(path, ref)
	return true, nil
}

// Reclaims reports how many stale markers this manager has reclaimed.
func (m *Manager) Reclaims() int64 {
	return m.reclaims.Load()
}

// Release removes the marker for ref. Idempotent: releasing an absent or
// concurrently reclaimed marker is not an error.
func (m *Manager) Release(ref string) error {
	if err := os.RemoveAll(m.markerPath(ref)); err != nil {
		return fmt.Errorf("lockdir: remove marker: %w", err)
	}
	return nil
}

// Held reports whether a marker currently exists for ref, stale or not.
// Diagnostic use only; the answer may be outdated by the time it returns.
func (m *Manager) Held(ref string) bool {
	_, err := os.Stat(m.markerPath(ref))
	return err == nil
}

// HeldLock describes one live marker, for status output.
type HeldLock struct {
	Ref       string    `json:"ref"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Stale     bool      `json:"stale"`
}

// List returns all current markers under the root.
func (m *Manager) List() []HeldLock {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}
	var locks []HeldLock
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		l := HeldLock{
			Ref:       e.Name(),
			CreatedAt: info.ModTime(),
			Stale:     m.staleAfter > 0 && time.Since(info.ModTime()) >= m.staleAfter,
		}
		if data, err := os.ReadFile(filepath.Join(m.root, e.Name(), "meta.json")); err == nil {
			var md meta
			if json.Unmarshal(data, &md) == nil {
				l.PID = md.PID
				if md.Ref != "" {
					l.Ref = md.Ref
				}
			}
		}
		locks = append(locks, l)
	}
	return locks
}

func (m *Manager) writeMeta(markerPath, ref string) {
	md := meta{
		PID:       os.Getpid(),
		Ref:       ref,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if data, err := json.Marshal(md); err == nil {
		_ = os.WriteFile(filepath.Join(markerPath, "meta.json"), append(data, '\n'), 0o644)
	}
}

func (m *Manager) markerPath(ref string) string {
	return filepath.Join(m.root, SanitizeRef(ref))
}

// SanitizeRef encodes a transcript ref as a filesystem-safe directory name.
// The readable prefix is truncated; an FNV-64a hash of the full ref keeps
// distinct refs from colliding after truncation.
func SanitizeRef(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := b.String()
	const maxPrefix = 120
	if len(name) > maxPrefix {
		name = name[len(name)-maxPrefix:]
	}
	h := fnv.New64a()
	h.Write([]byte(ref))
	return fmt.Sprintf("%s.%x", name, h.Sum64())
}
