package seen

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultPath is where the file-backed store keeps admitted video ids.
const DefaultPath = "tmp/state/seen_videos.txt"

// Store records which videos have been admitted for processing.
// Admit is the only write path and is an atomic check-and-set.
type Store interface {
	// Admit returns true exactly once per video id.
	Admit(ctx context.Context, videoID string) (bool, error)
	Contains(ctx context.Context, videoID string) (bool, error)
	Len(ctx context.Context) (int, error)
}

var errEmptyID = errors.New("video id is empty")

// Memory is an in-process store.
type Memory struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

var _ Store = (*Memory)(nil)

// PutIfAbsent inserts id and reports whether it was absent.
func (m *Memory) PutIfAbsent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return false
	}
	m.ids[id] = struct{}{}
	return true
}

func (m *Memory) Admit(_ context.Context, videoID string) (bool, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return false, errEmptyID
	}
	return m.PutIfAbsent(videoID), nil
}

func (m *Memory) Contains(_ context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[strings.TrimSpace(videoID)]
	return ok, nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids), nil
}

// File is an append-only newline-delimited store that survives restarts.
// A lock directory next to the file keeps a second process from opening it.
type File struct {
	logger zerolog.Logger
	path   string
	lock   util.DirLock

	mu   sync.Mutex
	f    appendFile
	size int64 // bytes of complete lines on disk
	ids  map[string]struct{}
}

type appendFile interface {
	io.StringWriter
	Sync() error
	Truncate(size int64) error
	Close() error
}

var _ Store = (*File)(nil)

// OpenFile loads path (creating it if needed) and takes the store lock.
func OpenFile(logger zerolog.Logger, path string) (*File, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create seen store directory: %w", err)
	}

	lock, err := util.AcquireDirLock(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("seen store unavailable: %w", err)
	}

	ids, valid, torn, err := load(path)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if torn {
		// the partial id was never acknowledged; drop it so the next append starts on a clean line
		if err := os.Truncate(path, valid); err != nil {
			_ = lock.Release()
			return nil, fmt.Errorf("failed to repair seen store: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to open seen store: %w", err)
	}

	s := &File{
		logger: logger.With().Str("component", "seen-store").Logger(),
		path:   path,
		lock:   lock,
		f:      f,
		size:   valid,
		ids:    ids,
	}
	s.logger.Debug().Str("path", path).Int("videos", len(ids)).Bool("repaired", torn).Msg("seen store loaded")
	return s, nil
}

// load reads every complete id and returns the length of the valid prefix.
// A final line without a newline is a torn write and is ignored.
func load(path string) (map[string]struct{}, int64, bool, error) {
	ids := make(map[string]struct{})
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("failed to read seen store: %w", err)
	}

	torn := len(data) > 0 && data[len(data)-1] != '\n'
	if torn {
		data = data[:bytes.LastIndexByte(data, '\n')+1]
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("failed to parse seen store: %w", err)
	}
	return ids, int64(len(data)), torn, nil
}

func (s *File) Admit(_ context.Context, videoID string) (bool, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return false, errEmptyID
	}
	if strings.ContainsAny(videoID, "\r\n") {
		return false, fmt.Errorf("video id %q contains a line break", videoID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return false, errors.New("seen store is closed")
	}
	if _, ok := s.ids[videoID]; ok {
		return false, nil
	}
	line := videoID + "\n"
	if _, err := s.f.WriteString(line); err != nil {
		return false, s.rollback(fmt.Errorf("failed to append to seen store: %w", err))
	}
	if err := s.f.Sync(); err != nil {
		return false, s.rollback(fmt.Errorf("failed to sync seen store: %w", err))
	}
	s.size += int64(len(line))
	s.ids[videoID] = struct{}{}
	return true, nil
}

// rollback cuts a failed append back to the last complete line so the next id
// never lands on a partial one. If that fails too the store refuses further writes.
func (s *File) rollback(cause error) error {
	if err := s.f.Truncate(s.size); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("seen store could not be repaired, closing")
		_ = s.f.Close()
		s.f = nil
		_ = s.lock.Release()
		return errors.Join(cause, err)
	}
	return cause
}

func (s *File) Contains(_ context.Context, videoID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[strings.TrimSpace(videoID)]
	return ok, nil
}

func (s *File) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}

// Close flushes the file and releases the store lock.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if lerr := s.lock.Release(); err == nil {
		err = lerr
	}
	return err
}
