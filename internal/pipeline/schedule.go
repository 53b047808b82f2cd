package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keagan/clipcannon/internal/seen"
	"github.com/rs/zerolog"
)

// Lister enumerates the videos available for processing
type Lister interface {
	List() ([]SourceVideo, error)
}

// Enqueuer accepts videos for background processing
type Enqueuer interface {
	Enqueue(videoID string) error
}

// Rescan queues every listed video the seen store has not admitted yet.
// A full queue stops the scan early without an error; the rest is picked up next time.
func Rescan(ctx context.Context, logger zerolog.Logger, lib Lister, store seen.Store, queue Enqueuer) (queued, skipped int, err error) {
	videos, err := lib.List()
	if err != nil {
		return 0, 0, fmt.Errorf("list library: %w", err)
	}
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return queued, skipped, err
		}
		ok, err := store.Contains(ctx, v.ID)
		if err != nil {
			return queued, skipped, err
		}
		if ok {
			skipped++
			continue
		}
		if err := queue.Enqueue(v.ID); err != nil {
			logger.Warn().Err(err).Str("video_id", v.ID).Msg("rescan stopped early")
			break
		}
		queued++
	}
	logger.Info().Int("queued", queued).Int("skipped", skipped).Msg("library rescanned")
	return queued, skipped, nil
}

// Job is one periodic task
type Job func(ctx context.Context, at time.Time)

// Ticker runs jobs on fixed intervals until stopped. Each job runs once at start.
type Ticker struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

func NewTicker(logger zerolog.Logger) *Ticker {
	return &Ticker{logger: logger.With().Str("component", "ticker").Logger()}
}

// Every schedules job every interval. A non-positive interval leaves the job off.
// Runs of one job never overlap; a slow run delays the next tick.
func (t *Ticker) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	if interval <= 0 || job == nil {
		t.logger.Debug().Str("job", name).Msg("periodic job disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info().Str("job", name).Dur("interval", interval).Msg("periodic job scheduled")
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		job(ctx, time.Now())
		for {
			select {
			case at := <-ticker.C:
				job(ctx, at)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels every job and waits for running ones to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	for _, cancel := range t.cancels {
		cancel()
	}
	t.cancels = nil
	t.mu.Unlock()
	t.wg.Wait()
}
