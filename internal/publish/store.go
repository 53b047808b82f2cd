package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/keagan/clipcannon/pkg/util"
)

var (
	ErrNotFound = errors.New("publish record not found")
	ErrTerminal = errors.New("publish record is in a terminal state")
)

// Store persists publish records keyed by clip id.
type Store interface {
	// Create inserts rec unless a record for the clip already exists.
	// It returns the stored record and whether this call created it.
	Create(ctx context.Context, rec Record) (Record, bool, error)
	Get(ctx context.Context, clipID string) (Record, error)
	// Update applies fn to a copy of the record and stores the result atomically.
	// Terminal records are never modified; fn errors leave the record unchanged.
	Update(ctx context.Context, clipID string, fn func(*Record) error) (Record, error)
	// List returns records in creation order, optionally restricted to the given states.
	List(ctx context.Context, states ...State) ([]Record, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(rec)
}

func (s *MemoryStore) create(rec Record) (Record, bool, error) {
	if rec.ClipID == "" {
		return Record{}, false, errors.New("clip id is required")
	}
	if existing, ok := s.records[rec.ClipID]; ok {
		return existing.clone(), false, nil
	}
	s.records[rec.ClipID] = rec.clone()
	return rec.clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, clipID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[clipID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, clipID)
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, clipID string, fn func(*Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(clipID, fn)
}

func (s *MemoryStore) update(clipID string, fn func(*Record) error) (Record, error) {
	rec, ok := s.records[clipID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, clipID)
	}
	if rec.State.Terminal() {
		return rec.clone(), fmt.Errorf("%w: %s is %s", ErrTerminal, clipID, rec.State)
	}

	next := rec.clone()
	if err := fn(&next); err != nil {
		return rec.clone(), err
	}
	s.records[clipID] = next
	return next.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, states ...State) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(states), nil
}

func (s *MemoryStore) list(states []State) []Record {
	want := make(map[State]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if len(want) > 0 && !want[rec.State] {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClipID < out[j].ClipID
	})
	return out
}

// DefaultStorePath is where FileStore keeps its snapshot.
const DefaultStorePath = "tmp/state/publish.json"

type snapshot struct {
	Records []Record `json:"records"`
}

// FileStore is a MemoryStore that writes a JSON snapshot after every change.
// Snapshots are replaced atomically, so a crash leaves either the old or the new state.
type FileStore struct {
	mem  *MemoryStore
	path string
	lock util.DirLock
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads the snapshot at path and takes an exclusive lock on it.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultStorePath
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create publish store directory: %w", err)
	}

	lock, err := util.AcquireDirLock(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("publish store unavailable: %w", err)
	}

	var snap snapshot
	if err := util.ReadJSON(path, &snap); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = lock.Release()
		return nil, err
	}
	mem := NewMemoryStore()
	for _, rec := range snap.Records {
		mem.records[rec.ClipID] = rec
	}

	return &FileStore{mem: mem, path: path, lock: lock}, nil
}

func (s *FileStore) Create(_ context.Context, rec Record) (Record, bool, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	out, created, err := s.mem.create(rec)
	if err != nil || !created {
		return out, created, err
	}
	if err := s.persist(); err != nil {
		delete(s.mem.records, rec.ClipID)
		return Record{}, false, err
	}
	return out, true, nil
}

func (s *FileStore) Get(ctx context.Context, clipID string) (Record, error) {
	return s.mem.Get(ctx, clipID)
}

func (s *FileStore) Update(_ context.Context, clipID string, fn func(*Record) error) (Record, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	prev, ok := s.mem.records[clipID]
	out, err := s.mem.update(clipID, fn)
	if err != nil {
		return out, err
	}
	if err := s.persist(); err != nil {
		if ok {
			s.mem.records[clipID] = prev
		}
		return prev.clone(), err
	}
	return out, nil
}

func (s *FileStore) List(ctx context.Context, states ...State) ([]Record, error) {
	return s.mem.List(ctx, states...)
}

// persist must be called with the memory store locked.
func (s *FileStore) persist() error {
	snap := snapshot{Records: s.mem.list(nil)}
	if err := util.WriteJSON(s.path, snap); err != nil {
		return fmt.Errorf("failed to persist publish store: %w", err)
	}
	return nil
}

// Close releases the store lock.
func (s *FileStore) Close() error {
	return s.lock.Release()
}
