// Package watch tails the agent hosts' transcript trees with fsnotify and
// synthesizes checkpoint events for transcripts that change, so the daemon
// can coordinate compression for hosts that never deliver lifecycle hooks.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/om/internal/hookevent"
)

// EventName is the synthesized lifecycle event name for watched changes. It
// classifies as a checkpoint, so throttling applies as usual.
const EventName = "TranscriptChanged"

const defaultDebounce = 2 * time.Second

// Handler receives one synthesized event per settled transcript change.
type Handler func(ctx context.Context, ev hookevent.Event)

// Watcher emits a checkpoint event when a transcript under the Claude
// projects tree or the Codex sessions tree stops changing for the debounce
// interval.
type Watcher struct {
	claudeDir string
	codexDir  string
	handle    Handler
	logger    *slog.Logger
	debounce  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewWatcher(claudeProjectsDir, codexHome string, handle Handler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		claudeDir: claudeProjectsDir,
		handle:    handle,
		logger:    logger,
		debounce:  defaultDebounce,
		timers:    map[string]*time.Timer{},
	}
	if codexHome != "" {
		w.codexDir = filepath.Join(codexHome, "sessions")
	}
	return w
}

// SetDebounce overrides the settle interval. For tests.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start registers the transcript trees and begins watching. The background
// goroutine exits when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: new watcher: %w", err)
	}

	for _, root := range []string{w.claudeDir, w.codexDir} {
		if root == "" {
			continue
		}
		w.addTree(fsw, root)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			w.stopTimers()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.dispatch(ctx, fsw, ev)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("transcript watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (w *Watcher) dispatch(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// Session trees grow new directories over time (one per project, one
	// per day). Watch them as they appear, and sweep transcripts already
	// inside: their creation may predate the registration.
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = fsw.Add(ev.Name)
			entries, err := os.ReadDir(ev.Name)
			if err != nil {
				return
			}
			for _, ent := range entries {
				if !ent.IsDir() && filepath.Ext(ent.Name()) == ".jsonl" {
					w.arm(ctx, filepath.Join(ev.Name, ent.Name()))
				}
			}
			return
		}
	}

	if filepath.Ext(ev.Name) != ".jsonl" {
		return
	}
	w.arm(ctx, ev.Name)
}

// arm starts or restarts the settle timer for one transcript path.
func (w *Watcher) arm(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, hookevent.Event{
			HookEventName:  EventName,
			TranscriptPath: path,
			Source:         w.sourceFor(path),
		})
	})
}

// sourceFor attributes a transcript to its agent host by tree.
func (w *Watcher) sourceFor(path string) string {
	if w.codexDir != "" && strings.HasPrefix(path, w.codexDir+string(filepath.Separator)) {
		return "codex"
	}
	return "claude"
}

// addTree registers root and every directory below it. Missing roots are
// fine: the host may not be installed.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.logger.Warn("transcript watcher: add failed", "dir", path, "error", addErr)
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		w.logger.Warn("transcript watcher: walk failed", "root", root, "error", err)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}
