package seen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, path string) *File {
	t.Helper()
	s, err := OpenFile(zerolog.Nop(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdmitOnce(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   openTestFile(t, filepath.Join(t.TempDir(), "seen.txt")),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.Admit(ctx, "vid-1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Admit(ctx, "vid-1")
			require.NoError(t, err)
			assert.False(t, ok, "second admit must be rejected")

			has, _ := s.Contains(ctx, "vid-1")
			assert.True(t, has)
			n, _ := s.Len(ctx)
			assert.Equal(t, 1, n)

			_, err = s.Admit(ctx, "  ")
			assert.Error(t, err)
		})
	}
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   openTestFile(t, filepath.Join(t.TempDir(), "seen.txt")),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.Admit(context.Background(), "contested")
					if err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestFileSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "seen.txt")
	ctx := context.Background()

	s, err := OpenFile(zerolog.Nop(), path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Admit(ctx, fmt.Sprintf("vid-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened := openTestFile(t, path)
	n, _ := reopened.Len(ctx)
	assert.Equal(t, 3, n)

	ok, err := reopened.Admit(ctx, "vid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileToleratesTornLineAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\na\n\nhalf-writ"), 0644))

	s := openTestFile(t, path)
	ctx := context.Background()

	n, _ := s.Len(ctx)
	assert.Equal(t, 2, n)
	has, _ := s.Contains(ctx, "half-writ")
	assert.False(t, has)

	ok, err := s.Admit(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\na\n\nc\n", string(data))

	// the torn id was never acknowledged, so it can still be admitted
	again := openTestFile(t, path)
	ok, err = again.Admit(ctx, "half-writ")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileLockPreventsSecondOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.txt")
	_ = openTestFile(t, path)

	_, err := OpenFile(zerolog.Nop(), path)
	assert.Error(t, err)
}

// shortWriter writes only the first n bytes of the next string, then fails.
type shortWriter struct {
	appendFile
	n int
}

func (w *shortWriter) WriteString(s string) (int, error) {
	n, _ := w.appendFile.WriteString(s[:w.n])
	return n, errors.New("disk full")
}

func TestFailedAppendIsRolledBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.txt")
	ctx := context.Background()

	s, err := OpenFile(zerolog.Nop(), path)
	require.NoError(t, err)
	ok, err := s.Admit(ctx, "ab")
	require.NoError(t, err)
	require.True(t, ok)

	file := s.f
	s.f = &shortWriter{appendFile: file, n: 2}
	_, err = s.Admit(ctx, "cd")
	require.Error(t, err)
	s.f = file

	ok, err = s.Admit(ctx, "ef")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ab\nef\n", string(data))

	reopened := openTestFile(t, path)
	ok, err = reopened.Admit(ctx, "cd")
	require.NoError(t, err)
	assert.True(t, ok, "an id whose append failed was never admitted")
	ok, err = reopened.Contains(ctx, "ef")
	require.NoError(t, err)
	assert.True(t, ok)
}
