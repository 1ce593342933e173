package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrLockHeld means another process owns the key right now.
	ErrLockHeld = errors.New("lock held by another owner")
	// ErrLockLost means the lease expired before Unlock; another owner may
	// have run in the meantime.
	ErrLockLost = errors.New("lock expired before release")
)

// Locker is a best-effort leader lease for periodic workers. A holder that
// outlives ttl loses the lease silently, so ttl must cover one tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	client *Client
}

func NewLocker(c *Client) *RedisLocker { return &RedisLocker{client: c} }

// TryLock makes one SET NX attempt with a random owner token.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl)
	switch {
	case err != nil:
		return "", err
	case !ok:
		return "", ErrLockHeld
	}
	return token, nil
}

// compare-and-delete so a late holder never frees a newer owner's lease
var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := luaRelease.Run(ctx, l.client.cli, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
