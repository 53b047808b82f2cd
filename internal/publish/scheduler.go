package publish

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a delayed unit of work keyed by clip id.
type Task func(ctx context.Context, clipID string)

// Scheduler delivers a task for a clip at or after the given time.
// Delivery is at-least-once; scheduling the same clip again replaces the pending delivery.
type Scheduler interface {
	Schedule(clipID string, at time.Time, task Task)
}

// TimerScheduler runs tasks in-process with time.AfterFunc. Pending timers are lost on exit,
// which Machine.Resume compensates for.
type TimerScheduler struct {
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

func NewTimerScheduler(logger zerolog.Logger) *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		logger: logger.With().Str("component", "claim-scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

func (s *TimerScheduler) Schedule(clipID string, at time.Time, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if t, ok := s.timers[clipID]; ok {
		t.Stop()
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[clipID] == timer {
			delete(s.timers, clipID)
		}
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		task(s.ctx, clipID)
	})
	s.timers[clipID] = timer
	s.logger.Debug().Str("clip_id", clipID).Dur("delay", delay).Msg("task scheduled")
}

// Pending returns the number of tasks waiting to fire.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels pending tasks and waits for running ones to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
