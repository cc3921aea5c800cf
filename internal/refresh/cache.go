package refresh

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache holds one ledger-derived value with the time it was fetched.
// Concurrent misses share a single fetch. A Cache is itself a Subscriber:
// a coordinated refresh invalidates it and fetches again.
type Cache[T any] struct {
	fetch  func(ctx context.Context) (T, error)
	maxAge time.Duration
	clock  Clock

	mu        sync.Mutex
	value     T
	fetchedAt time.Time
	valid     bool
	gen       uint64

	group singleflight.Group
}

// NewCache creates a Cache whose entries go stale after maxAge. A zero maxAge
// means a value stays fresh until invalidated.
func NewCache[T any](fetch func(ctx context.Context) (T, error), maxAge time.Duration, clock Clock) *Cache[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache[T]{fetch: fetch, maxAge: maxAge, clock: clock}
}

// Get returns the cached value, fetching it when missing or stale.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.valid && !c.staleLocked() {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.load(ctx)
}

// Peek returns the cached value without fetching.
func (c *Cache[T]) Peek() (T, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.fetchedAt, c.valid
}

// FetchedAt returns when the current value was fetched; zero if never.
func (c *Cache[T]) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// Stale reports whether the next Get will fetch.
func (c *Cache[T]) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.valid || c.staleLocked()
}

// Invalidate forces the next Get to fetch. A fetch already in flight will
// not repopulate the cache, and later Gets do not share its result.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.gen++
}

// Refresh implements Subscriber.
func (c *Cache[T]) Refresh(ctx context.Context, _ string) error {
	c.Invalidate()
	_, err := c.Get(ctx)
	return err
}

func (c *Cache[T]) staleLocked() bool {
	return c.maxAge > 0 && c.clock.Now().Sub(c.fetchedAt) >= c.maxAge
}

func (c *Cache[T]) load(ctx context.Context) (T, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		start := c.clock.Now()
		val, err := c.fetch(ctx)
		if err != nil {
			return val, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.value = val
			c.fetchedAt = start
			c.valid = true
		}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}
