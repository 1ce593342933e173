package redis

import (
	"context"
	"fmt"
	"time"
)

// Throttle drops an update that arrives sooner than window after the same
// user's previous update. Every arrival, admitted or not, restarts the window.
type Throttle struct {
	client RedisClient
	window time.Duration
}

func NewThrottle(client RedisClient, window time.Duration) *Throttle {
	return &Throttle{client: client, window: window}
}

func (t *Throttle) Allow(ctx context.Context, tgID int64) (bool, error) {
	if t.window <= 0 {
		return true, nil
	}
	seen, err := t.client.Refresh(ctx, UserThrottleKey(tgID), t.window)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

func UserThrottleKey(tgID int64) string {
	return fmt.Sprintf("throttle:user:%d", tgID)
}
