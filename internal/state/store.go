// Package state persists per-transcript progress in a single JSON document.
// Writers re-read the freshest on-disk document before merging their record
// and replace the file with a temp-then-rename, so a concurrent reader never
// observes a partial store and concurrent writers for different transcripts
// do not clobber each other. Writers for the same transcript are serialized
// externally by the per-transcript lock.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the outcome of the most recent coordination pass.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Record is the persisted progress for one transcript.
type Record struct {
	LastObserved time.Time `json:"last_observed"`
	MessageCount int       `json:"message_count"`
	Status       Status    `json:"status"`

	// Legacy field names from earlier releases, accepted on read and
	// dropped on the next write.
	LegacyMessages  *int       `json:"messages,omitempty"`
	LegacyUpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ErrAbsent is returned by Read when no record exists for the transcript,
// including when the backing store is missing, unreadable, or corrupt. The
// coordinator degrades to "run anyway" rather than blocking on corruption.
var ErrAbsent = errors.New("state: no record")

// Store reads and writes the shared state document.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the last persisted record for ref, or ErrAbsent.
func (s *Store) Read(ref string) (Record, error) {
	records := s.load()
	rec, ok := records[ref]
	if !ok {
		return Record{}, ErrAbsent
	}
	return migrate(rec), nil
}

// Write atomically replaces the record for ref, preserving all other
// transcripts' records by merging into the freshest on-disk document. A
// short-lived sidecar lock file serializes the read-merge-rename sequence
// across processes so a racing writer for another ref cannot merge from a
// snapshot this writer is about to replace.
func (s *Store) Write(ref string, now time.Time, messageCount int, status Status) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}

	unlock, err := s.lockForWrite()
	if err != nil {
		return err
	}
	defer unlock()

	// Merge must start from the latest on-disk contents, not a stale
	// in-memory copy: other refs write the same file concurrently.
	records := s.load()
	records[ref] = Record{
		LastObserved: now.UTC(),
		MessageCount: messageCount,
		Status:       status,
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

const (
	writeLockTimeout = 2 * time.Second
	writeLockStale   = 10 * time.Second
)

// lockForWrite takes the sidecar write lock via atomic O_EXCL creation.
// Holders are expected to finish in milliseconds; a lock file older than
// writeLockStale is removed, so a writer killed mid-sequence cannot wedge
// the store. Timing out is an error: the caller's record write is reported
// as failed rather than silently merged from a contended snapshot.
func (s *Store) lockForWrite() (func(), error) {
	lockPath := s.path + ".lock"
	deadline := time.Now().Add(writeLockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("state: write lock: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > writeLockStale {
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("state: write lock timeout")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// All returns every persisted record, migrated. For status output.
func (s *Store) All() map[string]Record {
	records := s.load()
	out := make(map[string]Record, len(records))
	for ref, rec := range records {
		out[ref] = migrate(rec)
	}
	return out
}

// load reads the backing document. Missing or corrupt stores yield an empty
// map: corruption must never abort coordination.
func (s *Store) load() map[string]Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Record{}
	}
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil || records == nil {
		return map[string]Record{}
	}
	return records
}

// migrate folds legacy field names into the current shape.
func migrate(rec Record) Record {
	if rec.MessageCount == 0 && rec.LegacyMessages != nil {
		rec.MessageCount = *rec.LegacyMessages
	}
	if rec.LastObserved.IsZero() && rec.LegacyUpdatedAt != nil {
		rec.LastObserved = *rec.LegacyUpdatedAt
	}
	rec.LegacyMessages = nil
	rec.LegacyUpdatedAt = nil
	return rec
}
