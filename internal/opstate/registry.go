package opstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// DefaultLockTTL bounds how long a distributed guard survives a crashed
// holder. It must exceed the confirmation timeout.
const DefaultLockTTL = 5 * time.Minute

// Registry is the in-flight guard. A Begin for a key whose previous
// operation is not terminal is rejected, never queued.
type Registry struct {
	mu        sync.Mutex
	active    map[domain.OperationKey]*Machine
	observers []func(Transition)

	locks   domain.LockManager
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLockManager adds a distributed lock taken alongside the local guard so
// several replicas share one writer per key.
func WithLockManager(lm domain.LockManager, ttl time.Duration) Option {
	return func(r *Registry) {
		r.locks = lm
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithClock overrides time.Now for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		active:  make(map[domain.OperationKey]*Machine),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With(slog.String("component", "opstate"))
	return r
}

// OnTransition registers fn for every transition of every later machine,
// including the initial Idle.
func (r *Registry) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Begin claims key for a new operation and returns its Machine in Idle. The
// claim is released when the machine reaches Confirmed or Failed; callers
// must drive it there on every path.
func (r *Registry) Begin(ctx context.Context, key domain.OperationKey, intent domain.Intent, amount *big.Int) (*Machine, error) {
	r.mu.Lock()
	if m, ok := r.active[key]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("opstate: %s has %s operation %s: %w", key, m.Intent(), m.State(), domain.ErrOperationInFlight)
	}
	m := newMachine(uuid.NewString(), key, intent, amount, r.now)
	r.active[key] = m
	observers := append([]func(Transition){}, r.observers...)
	r.mu.Unlock()

	unlock := func() {}
	if r.locks != nil {
		u, err := r.locks.Acquire(ctx, "opguard:"+key.String(), r.lockTTL)
		if err != nil {
			r.remove(key, m)
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("opstate: %s held by another replica: %w", key, domain.ErrOperationInFlight)
			}
			return nil, fmt.Errorf("opstate: acquire guard %s: %w", key, err)
		}
		unlock = u
	}

	for _, fn := range observers {
		m.Observe(fn)
	}
	m.Observe(func(t Transition) {
		if !t.To.Terminal() {
			return
		}
		unlock()
		r.remove(key, m)
		r.logger.Debug("operation finished",
			slog.String("id", t.OperationID),
			slog.String("key", key.String()),
			slog.String("intent", string(t.Intent)),
			slog.String("state", string(t.To)),
		)
	})

	initial := Transition{
		OperationID: m.ID(),
		Key:         key,
		Intent:      intent,
		Amount:      amount,
		To:          domain.StateIdle,
		At:          r.now(),
	}
	for _, fn := range observers {
		fn(initial)
	}
	return m, nil
}

// Active returns the machine currently holding key, if any.
func (r *Registry) Active(key domain.OperationKey) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.active[key]
	return m, ok
}

// InFlight returns the number of non-terminal operations.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) remove(key domain.OperationKey, m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] == m {
		delete(r.active, key)
	}
}
