package pipeline

import (
	"sync"
	"time"
)

// Quota tracks clips granted per creator per UTC day.
type Quota struct {
	mu   sync.Mutex
	now  func() time.Time
	day  string
	used map[string]int
}

// NewQuota creates a quota tracker; nil now uses the wall clock.
func NewQuota(now func() time.Time) *Quota {
	if now == nil {
		now = time.Now
	}
	return &Quota{now: now, used: make(map[string]int)}
}

// rollover must be called with mu held
func (q *Quota) rollover() {
	day := q.now().UTC().Format("2006-01-02")
	if day != q.day {
		q.day = day
		q.used = make(map[string]int)
	}
}

// Remaining returns how many clips the creator may still get today.
func (q *Quota) Remaining(creator string, cap int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if left := cap - q.used[creator]; left > 0 {
		return left
	}
	return 0
}

// Reserve grants up to n clips and returns how many were granted.
func (q *Quota) Reserve(creator string, cap, n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	left := cap - q.used[creator]
	if left <= 0 || n <= 0 {
		return 0
	}
	if n > left {
		n = left
	}
	q.used[creator] += n
	return n
}

// Used returns today's count for a creator
func (q *Quota) Used(creator string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used[creator]
}
