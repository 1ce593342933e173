package telegram

import (
	"context"
	"sync"
	"time"
)

// Throttler decides whether a user's interactive update may be handled now.
// redis.Throttle is the shared implementation; MemoryThrottle serves a single
// process.
type Throttler interface {
	Allow(ctx context.Context, tgID int64) (bool, error)
}

// MemoryThrottle admits one update per user per window. Rejected updates do
// not extend the window.
type MemoryThrottle struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[int64]time.Time
}

const memoryThrottleSweepAt = 10000

func NewMemoryThrottle(window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{window: window, now: time.Now, last: make(map[int64]time.Time)}
}

func (t *MemoryThrottle) Allow(_ context.Context, tgID int64) (bool, error) {
	if t.window <= 0 {
		return true, nil
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[tgID]; ok && now.Sub(prev) < t.window {
		return false, nil
	}
	t.last[tgID] = now
	if len(t.last) > memoryThrottleSweepAt {
		for id, at := range t.last {
			if now.Sub(at) >= t.window {
				delete(t.last, id)
			}
		}
	}
	return true, nil
}
