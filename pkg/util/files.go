package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CleanupFiles removes multiple files, ignoring errors
func CleanupFiles(paths ...string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".clipcannon-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, atomically
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON decodes the JSON file at path into v
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

// DirLock is an exclusive lock held as a directory on disk.
type DirLock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireDirLock creates lockDir; it fails if another holder already created it.
func AcquireDirLock(lockDir string) (DirLock, error) {
	if strings.TrimSpace(lockDir) == "" {
		return DirLock{}, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(filepath.Dir(lockDir), 0755); err != nil {
		return DirLock{}, fmt.Errorf("create parent for %s: %w", lockDir, err)
	}

	ownerPath := filepath.Join(lockDir, "owner.json")
	if err := os.Mkdir(lockDir, 0755); err != nil {
		if os.IsExist(err) {
			var owner lockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 {
				return DirLock{}, fmt.Errorf("%s is locked (pid=%d created_at=%s host=%s)",
					lockDir, owner.PID, owner.CreatedAt, owner.Hostname)
			}
			return DirLock{}, fmt.Errorf("%s is locked", lockDir)
		}
		return DirLock{}, fmt.Errorf("acquire lock %s: %w", lockDir, err)
	}

	host, _ := os.Hostname()
	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  host,
	}
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return DirLock{}, fmt.Errorf("write lock owner for %s: %w", lockDir, err)
	}
	return DirLock{dir: lockDir}, nil
}

// Release removes the lock directory. Releasing a zero DirLock is a no-op.
func (l DirLock) Release() error {
	if l.dir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, "owner.json"))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

// RemoveOlderThan deletes regular files under dir last modified before now-age.
// Lock directories and any directory listed in keep are left alone.
// It returns the removed paths; a missing dir is not an error.
func RemoveOlderThan(dir string, age time.Duration, now time.Time, keep ...string) ([]string, error) {
	cutoff := now.Add(-age)
	var removed []string

	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[filepath.Clean(k)] = true
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if strings.HasSuffix(d.Name(), ".lock") || skip[filepath.Clean(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed = append(removed, path)
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleanup %s: %w", dir, err)
	}
	return removed, nil
}
