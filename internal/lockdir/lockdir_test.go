package lockdir

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "locks"), time.Hour)

	ok, err := m.Acquire("/t1")
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = m.Acquire("/t1")
	if err != nil {
		t.Fatalf("second acquire err: %v", err)
	}
	if ok {
		t.Fatal("second acquire succeeded while held")
	}

	if err := m.Release("/t1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = m.Acquire("/t1")
	if err != nil || !ok {
		t.Fatalf("reacquire after release = %v, %v", ok, err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "locks"), time.Hour)
	if err := m.Release("/never-acquired"); err != nil {
		t.Fatalf("release of absent marker: %v", err)
	}
	m.Acquire("/t1")
	m.Release("/t1")
	if err := m.Release("/t1"); err != nil {
		t.Fatalf("double release: %v", err)
	}
}

func TestDistinctRefsIndependent(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "locks"), time.Hour)
	if ok, _ := m.Acquire("/t1"); !ok {
		t.Fatal("acquire /t1")
	}
	if ok, _ := m.Acquire("/t2"); !ok {
		t.Fatal("acquire /t2 blocked by /t1")
	}
}

func TestStaleReclamation(t *testing.T) {
	root := filepath.Join(t.TempDir(), "locks")
	m := NewManager(root, 30*time.Minute)

	if ok, _ := m.Acquire("/t1"); !ok {
		t.Fatal("acquire")
	}

	// Age the marker past the threshold, simulating a holder that died.
	marker := filepath.Join(root, SanitizeRef("/t1"))
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(marker, old, old); err != nil {
		t.Fatal(err)
	}

	ok, err := m.Acquire("/t1")
	if err != nil {
		t.Fatalf("reclaim acquire: %v", err)
	}
	if !ok {
		t.Fatal("stale marker not reclaimed")
	}
}

func TestYoungMarkerNotReclaimed(t *testing.T) {
	root := filepath.Join(t.TempDir(), "locks")
	m := NewManager(root, 30*time.Minute)

	m.Acquire("/t1")
	marker := filepath.Join(root, SanitizeRef("/t1"))
	recent := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(marker, recent, recent); err != nil {
		t.Fatal(err)
	}

	if ok, _ := m.Acquire("/t1"); ok {
		t.Fatal("marker younger than threshold was reclaimed")
	}
}

func TestReclamationDisabled(t *testing.T) {
	root := filepath.Join(t.TempDir(), "locks")
	m := NewManager(root, 0)

	m.Acquire("/t1")
	marker := filepath.Join(root, SanitizeRef("/t1"))
	ancient := time.Now().Add(-240 * time.Hour)
	if err := os.Chtimes(marker, ancient, ancient); err != nil {
		t.Fatal(err)
	}

	if ok, _ := m.Acquire("/t1"); ok {
		t.Fatal("reclaimed despite staleAfter=0")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "locks"), time.Hour)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Acquire("/t1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d acquirers won, want exactly 1", count)
	}
}

func TestSanitizeRef(t *testing.T) {
	a := SanitizeRef("/home/u/.claude/projects/p/t.jsonl")
	b := SanitizeRef("/home/u/.claude/projects/p/t2.jsonl")
	if a == b {
		t.Error("distinct refs collide")
	}
	if filepath.Base(a) != a {
		t.Errorf("sanitized ref %q contains a path separator", a)
	}

	// Long refs differing only in a truncated prefix must not collide.
	long1 := "/x/" + string(make([]byte, 200)) + "/same-tail.jsonl"
	long2 := "/y/" + string(make([]byte, 200)) + "/same-tail.jsonl"
	if SanitizeRef(long1) == SanitizeRef(long2) {
		t.Error("hash suffix failed to disambiguate truncated refs")
	}
}

func TestList(t *testing.T) {
	root := filepath.Join(t.TempDir(), "locks")
	m := NewManager(root, 30*time.Minute)

	m.Acquire("/t1")
	m.Acquire("/t2")
	marker := filepath.Join(root, SanitizeRef("/t2"))
	old := time.Now().Add(-time.Hour)
	os.Chtimes(marker, old, old)

	locks := m.List()
	if len(locks) != 2 {
		t.Fatalf("listed %d locks, want 2", len(locks))
	}
	staleCount := 0
	for _, l := range locks {
		if l.Stale {
			staleCount++
		}
		if l.PID == 0 {
			t.Errorf("lock %s missing pid metadata", l.Ref)
		}
	}
	if staleCount != 1 {
		t.Errorf("stale count = %d, want 1", staleCount)
	}
}
