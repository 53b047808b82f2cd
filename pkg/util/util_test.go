package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00"},
		{75.9, "01:15"},
		{3725, "1:02:05"},
		{-3, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.in); got != tt.want {
			t.Errorf("FormatClock(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{12500 * time.Millisecond, "00:00:12.500"},
		{time.Hour + 2*time.Minute + 3500*time.Millisecond, "01:02:03.500"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDirLockBlocksSecondAcquire(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "state", "seen.lock")

	lock, err := AcquireDirLock(lockDir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	if _, err := AcquireDirLock(lockDir); err == nil {
		t.Fatal("expected second acquire to fail")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	lock2, err := AcquireDirLock(lockDir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = lock2.Release()
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := map[string]int{"a": 1}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("unexpected content %v", out)
	}
}

func TestRemoveOlderThan(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.mp4")
	newPath := filepath.Join(dir, "new.mp4")
	for _, p := range []string{oldPath, newPath} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	if err := os.Chtimes(oldPath, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveOlderThan(dir, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(removed) != 1 || removed[0] != oldPath {
		t.Errorf("removed %v, want only %s", removed, oldPath)
	}
	if !FileExists(newPath) {
		t.Error("recent file was removed")
	}

	if _, err := RemoveOlderThan(filepath.Join(dir, "missing"), time.Hour, now); err != nil {
		t.Errorf("missing dir should not error: %v", err)
	}
}

func TestRemoveOlderThanKeepsListedDirs(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	if err := EnsureDir(state); err != nil {
		t.Fatal(err)
	}
	kept := filepath.Join(state, "seen_videos.txt")
	stale := filepath.Join(dir, "render.part.mp4")
	now := time.Now()
	for _, p := range []string{kept, stale} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, now.Add(-72*time.Hour), now.Add(-72*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := RemoveOlderThan(dir, 24*time.Hour, now, state)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(removed) != 1 || removed[0] != stale {
		t.Errorf("removed %v, want only %s", removed, stale)
	}
	if !FileExists(kept) {
		t.Error("state file was removed")
	}
}
