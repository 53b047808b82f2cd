package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrQueueFull   = errors.New("video queue full")
)

// RunFunc processes one video end to end.
type RunFunc func(ctx context.Context, videoID string) (Report, error)

// Pool runs videos on a fixed number of workers. Videos complete in any order.
type Pool struct {
	logger   zerolog.Logger
	run      RunFunc
	workers  int
	queue    chan string
	onResult func(Report, error)

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool; onResult may be nil.
func NewPool(logger zerolog.Logger, run RunFunc, workers, queueSize int, onResult func(Report, error)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		logger:   logger.With().Str("component", "worker-pool").Logger(),
		run:      run,
		workers:  workers,
		queue:    make(chan string, queueSize),
		onResult: onResult,
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case videoID, ok := <-p.queue:
			if !ok {
				return
			}
			p.logger.Debug().Int("worker", id).Str("video_id", videoID).Msg("picked up video")
			report, err := p.run(ctx, videoID)
			if err != nil {
				p.logger.Warn().Err(err).Str("video_id", videoID).Msg("video run failed")
			}
			if p.onResult != nil {
				p.onResult(report, err)
			}
		}
	}
}

// Enqueue queues a video without blocking.
func (p *Pool) Enqueue(videoID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- videoID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop lets workers drain queued videos and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
	p.logger.Info().Msg("worker pool stopped")
}

// Len reports how many videos are waiting for a worker.
func (p *Pool) Len() int {
	return len(p.queue)
}
