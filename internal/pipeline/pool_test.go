package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryVideo(t *testing.T) {
	var mu sync.Mutex
	var done []string

	run := func(_ context.Context, id string) (Report, error) {
		return Report{VideoID: id}, nil
	}
	pool := NewPool(zerolog.Nop(), run, 3, 16, func(r Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		done = append(done, r.VideoID)
	})

	pool.Start(context.Background())
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, pool.Enqueue(id))
	}
	pool.Stop()

	sort.Strings(done)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, done)
	assert.ErrorIs(t, pool.Enqueue("f"), ErrPoolStopped)
}

func TestPoolQueueFull(t *testing.T) {
	run := func(_ context.Context, id string) (Report, error) { return Report{}, nil }
	pool := NewPool(zerolog.Nop(), run, 1, 1, nil)

	require.NoError(t, pool.Enqueue("a"))
	assert.ErrorIs(t, pool.Enqueue("b"), ErrQueueFull)
	pool.Stop()
}
