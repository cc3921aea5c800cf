package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// Both scripts act only while the key still holds the caller's token, so a
// holder whose TTL lapsed can neither release nor extend a successor's lock.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// LockManager hands out per-(user, event) operation guards shared by every
// replica. A held guard is renewed in the background until it is released,
// so a confirmation wait longer than the TTL does not let a second writer in.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the guard for key or returns domain.ErrLockHeld. The
// returned release function may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// the operation's context is usually finished by now
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

// keepAlive extends the lock every renewInterval(ttl) until stop closes or
// the token is no longer the holder.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(renewInterval(ttl))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), renewInterval(ttl))
			n, err := renewScript.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func renewInterval(ttl time.Duration) time.Duration {
	d := ttl / 3
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

var _ domain.LockManager = (*LockManager)(nil)
