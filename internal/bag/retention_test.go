package bag

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, size int, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return path
}

func TestRetentionManagerPruneByCount(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, dir, "bag_1.bag", 10, now.Add(-3*time.Hour))
	writeFile(t, dir, "bag_2.bag", 10, now.Add(-2*time.Hour))
	writeFile(t, dir, "bag_3.bag", 10, now.Add(-1*time.Hour))

	mgr := RetentionManager{Dir: dir, Policy: RetentionPolicy{MaxCount: 2}}
	deleted, err := mgr.Prune("")
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	remaining, _ := mgr.listBagFiles("")
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
	if remaining[0].path != filepath.Join(dir, "bag_2.bag") {
		t.Fatalf("expected oldest file bag_1.bag to be pruned, kept %v", remaining)
	}
}

func TestRetentionManagerPruneByAge(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, dir, "old.bag", 10, now.Add(-48*time.Hour))
	writeFile(t, dir, "new.bag", 10, now.Add(-1*time.Minute))

	mgr := RetentionManager{Dir: dir, Policy: RetentionPolicy{MaxAge: time.Hour}}
	deleted, err := mgr.Prune("")
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.bag")); err != nil {
		t.Fatalf("new.bag should survive: %v", err)
	}
}

func TestRetentionManagerExcludesCurrentFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	current := writeFile(t, dir, "current.bag", 10, now.Add(-72*time.Hour))

	mgr := RetentionManager{Dir: dir, Policy: RetentionPolicy{MaxAge: time.Hour}}
	deleted, err := mgr.Prune(current)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0 (current file must be excluded)", deleted)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("current file should not be deleted: %v", err)
	}
}

func TestRetentionManagerFreeBytes(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, dir, "a.bag", 100, now.Add(-3*time.Hour))
	writeFile(t, dir, "b.bag", 100, now.Add(-2*time.Hour))
	writeFile(t, dir, "c.bag", 100, now.Add(-1*time.Hour))

	mgr := RetentionManager{Dir: dir}
	freed, err := mgr.FreeBytes("", 150)
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if freed < 150 {
		t.Fatalf("freed = %d, want at least 150", freed)
	}
	remaining, _ := mgr.listBagFiles("")
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d, want 1 (oldest two deleted)", len(remaining))
	}
	if remaining[0].path != filepath.Join(dir, "c.bag") {
		t.Fatalf("expected newest file c.bag to survive, got %v", remaining)
	}
}
