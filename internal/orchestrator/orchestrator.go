// Package orchestrator sequences approvals, stakes and claims for one wallet
// and folds every outcome into an ActionResult.
package orchestrator

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/allowance"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/refresh"
	"github.com/alanyoungcy/predictstake/internal/stake"
)

// Completion is passed to the completion callback after a confirmed write.
type Completion struct {
	Event  common.Address
	Intent domain.Intent
	Amount *big.Int
	Result ActionResult
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Reader     domain.LedgerReader
	Writer     domain.LedgerWriter
	Engine     *stake.Engine
	Allowances *allowance.Manager
	Registry   *opstate.Registry
	Classifier *lifecycle.Classifier
	Refresher  stake.Trigger
	Shared     domain.SnapshotCache // optional
}

// Config holds orchestrator tuning.
type Config struct {
	SnapshotMaxAge time.Duration
	SnapshotLimit  int
	ConfirmTimeout time.Duration
}

// DefaultConfig returns a 10s snapshot age and room for 256 events.
func DefaultConfig() Config {
	return Config{
		SnapshotMaxAge: 10 * time.Second,
		SnapshotLimit:  256,
		ConfirmTimeout: opstate.DefaultConfirmTimeout,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now and the snapshot staleness clock.
func WithClock(c refresh.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithCompletion registers fn to run after every confirmed write.
func WithCompletion(fn func(Completion)) Option {
	return func(o *Orchestrator) { o.onComplete = fn }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator is safe for concurrent use. Calls for the same event are
// serialized by rejection, not by waiting.
type Orchestrator struct {
	deps       Deps
	cfg        Config
	user       common.Address
	clock      refresh.Clock
	onComplete func(Completion)
	logger     *slog.Logger
	snapshots  *snapshotStore
}

// New creates an Orchestrator acting for the engine's wallet.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	if deps.Reader == nil || deps.Writer == nil || deps.Engine == nil || deps.Allowances == nil || deps.Registry == nil {
		return nil, fmt.Errorf("orchestrator: missing dependency: %w", domain.ErrInvalidInput)
	}
	if deps.Classifier == nil {
		deps.Classifier = lifecycle.NewClassifier(lifecycle.DefaultTable())
	}
	def := DefaultConfig()
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = def.SnapshotMaxAge
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = def.SnapshotLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		user:   deps.Engine.User(),
		clock:  refresh.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "orchestrator"))
	snaps, err := newSnapshotStore(deps.Reader, o.user, cfg.SnapshotLimit, cfg.SnapshotMaxAge, o.clock, deps.Shared, o.logger)
	if err != nil {
		return nil, err
	}
	o.snapshots = snaps
	return o, nil
}

// User returns the wallet the orchestrator acts for.
func (o *Orchestrator) User() common.Address { return o.user }

// Snapshots returns the snapshot cache as a refresh subscriber.
func (o *Orchestrator) Snapshots() refresh.Subscriber { return o.snapshots }

func (o *Orchestrator) key(event common.Address) domain.OperationKey {
	return domain.OperationKey{User: o.user, Event: event}
}

func (o *Orchestrator) complete(event common.Address, intent domain.Intent, amount *big.Int, res ActionResult) {
	if o.onComplete == nil {
		return
	}
	o.onComplete(Completion{Event: event, Intent: intent, Amount: amount, Result: res})
}

func (o *Orchestrator) trigger(reason string) {
	if o.deps.Refresher != nil {
		o.deps.Refresher.Trigger(reason)
	}
}
