package transcript

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FindClaude returns Claude Code transcript files under projectsDir modified
// within maxAge, newest first. Layout is one directory per project, each
// holding *.jsonl session transcripts.
func FindClaude(projectsDir string, maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	var found []fileMtime

	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}
	for _, project := range entries {
		if !project.IsDir() {
			continue
		}
		dir := filepath.Join(projectsDir, project.Name())
		matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				found = append(found, fileMtime{m, info.ModTime()})
			}
		}
	}
	return newestFirst(found)
}

// FindCodex returns Codex CLI session files under <codexHome>/sessions
// modified within maxAge, newest first. Codex nests sessions by date, so the
// walk is recursive.
func FindCodex(codexHome string, maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	sessionsDir := filepath.Join(codexHome, "sessions")
	var found []fileMtime

	err := filepath.WalkDir(sessionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			found = append(found, fileMtime{path, info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil
	}
	return newestFirst(found)
}

type fileMtime struct {
	path  string
	mtime time.Time
}

func newestFirst(files []fileMtime) []string {
	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}
