// Package refresh coordinates re-reads of ledger-derived state after
// confirmed writes. The ledger's indexers lag, so a single mutation schedules
// several refreshes at fixed offsets, and a throttle bounds how often they run.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Subscriber is refreshed by every coordinated run.
type Subscriber interface {
	Refresh(ctx context.Context, reason string) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, reason string) error

func (f SubscriberFunc) Refresh(ctx context.Context, reason string) error { return f(ctx, reason) }

// Run describes one coordinated refresh.
type Run struct {
	Reason      string
	Subscribers int
	Failed      int
	Remote      bool
	At          time.Time
	Duration    time.Duration
}

// Hooks observe coordinator activity.
type Hooks struct {
	OnRun       func(Run)
	OnThrottled func(reason string)
}

// Config holds coordinator tuning.
type Config struct {
	Offsets     []time.Duration
	MinInterval time.Duration
	RunTimeout  time.Duration
}

// DefaultConfig returns offsets 0s, 3s, 6s and a 2s throttle.
func DefaultConfig() Config {
	return Config{
		Offsets:     []time.Duration{0, 3 * time.Second, 6 * time.Second},
		MinInterval: 2 * time.Second,
		RunTimeout:  15 * time.Second,
	}
}

// Coordinator fans refresh requests out to subscribers.
type Coordinator struct {
	cfg     Config
	clock   Clock
	limiter *rate.Limiter
	hooks   Hooks
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[int]Subscriber
	nextID   int
	timers   map[Timer]struct{}
	trailing *trailingRun
	runMu    sync.Mutex
}

type trailingRun struct {
	reason string
	remote bool
}

// New creates a Coordinator. Scheduled work stops on Close.
func New(cfg Config, clock Clock, hooks Hooks, logger *slog.Logger) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = []time.Duration{0}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:     cfg,
		clock:   clock,
		limiter: rate.NewLimiter(limit, 1),
		hooks:   hooks,
		logger:  logger.With(slog.String("component", "refresh")),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]Subscriber),
		timers:  make(map[Timer]struct{}),
	}
}

// Subscribe registers s and returns a function that removes it.
func (c *Coordinator) Subscribe(s Subscriber) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = s
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Trigger schedules refreshes at every configured offset. A zero offset runs
// on the caller's goroutine, so Trigger returns after that run finishes or is
// throttled; later offsets run on timers.
func (c *Coordinator) Trigger(reason string) {
	c.schedule(reason, false)
}

// TriggerRemote is Trigger for a mutation observed on another replica. Runs
// it causes are marked Remote so they are not re-published.
func (c *Coordinator) TriggerRemote(reason string) {
	c.schedule(reason, true)
}

func (c *Coordinator) schedule(reason string, remote bool) {
	for _, off := range c.cfg.Offsets {
		if off <= 0 {
			c.request(reason, remote)
			continue
		}
		c.after(off, func() { c.request(reason, remote) })
	}
}

// RefreshNow runs a refresh synchronously when the throttle allows it and
// reports true. Otherwise the request joins the pending trailing refresh and
// false is returned.
func (c *Coordinator) RefreshNow(ctx context.Context) (bool, error) {
	const reason = "manual"
	c.mu.Lock()
	if c.trailing != nil {
		c.mu.Unlock()
		c.throttled(reason)
		return false, nil
	}
	now := c.clock.Now()
	if c.limiter.AllowN(now, 1) {
		c.mu.Unlock()
		return true, c.run(ctx, reason, false)
	}
	c.scheduleTrailingLocked(now, reason, false)
	c.mu.Unlock()
	c.throttled(reason)
	return false, nil
}

// Close cancels in-flight runs and pending timers.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[Timer]struct{})
	c.trailing = nil
}

func (c *Coordinator) request(reason string, remote bool) {
	if c.ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	if c.trailing != nil {
		c.mu.Unlock()
		c.throttled(reason)
		return
	}
	now := c.clock.Now()
	if c.limiter.AllowN(now, 1) {
		c.mu.Unlock()
		_ = c.run(c.ctx, reason, remote)
		return
	}
	c.scheduleTrailingLocked(now, reason, remote)
	c.mu.Unlock()
	c.throttled(reason)
}

// scheduleTrailingLocked reserves the next throttle slot so the trailing run
// cannot itself be throttled.
func (c *Coordinator) scheduleTrailingLocked(now time.Time, reason string, remote bool) {
	res := c.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	c.trailing = &trailingRun{reason: reason, remote: remote}
	c.afterLocked(delay, func() {
		c.mu.Lock()
		tr := c.trailing
		c.trailing = nil
		c.mu.Unlock()
		if tr == nil || c.ctx.Err() != nil {
			return
		}
		_ = c.run(c.ctx, tr.reason, tr.remote)
	})
}

func (c *Coordinator) run(ctx context.Context, reason string, remote bool) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	subs := make([]Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	start := c.clock.Now()
	var errs []error
	for _, s := range subs {
		if err := s.Refresh(ctx, reason); err != nil {
			errs = append(errs, err)
			c.logger.Warn("subscriber refresh failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}
	info := Run{
		Reason:      reason,
		Subscribers: len(subs),
		Failed:      len(errs),
		Remote:      remote,
		At:          start,
		Duration:    c.clock.Now().Sub(start),
	}
	c.logger.Debug("refresh run",
		slog.String("reason", reason),
		slog.Int("subscribers", info.Subscribers),
		slog.Int("failed", info.Failed),
		slog.Bool("remote", remote),
	)
	if c.hooks.OnRun != nil {
		c.hooks.OnRun(info)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) throttled(reason string) {
	if c.hooks.OnThrottled != nil {
		c.hooks.OnThrottled(reason)
	}
}

func (c *Coordinator) after(d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterLocked(d, f)
}

func (c *Coordinator) afterLocked(d time.Duration, f func()) {
	var t Timer
	var mu sync.Mutex
	mu.Lock()
	t = c.clock.AfterFunc(d, func() {
		mu.Lock()
		timer := t
		mu.Unlock()
		c.mu.Lock()
		delete(c.timers, timer)
		c.mu.Unlock()
		f()
	})
	c.timers[t] = struct{}{}
	mu.Unlock()
}
