// Package stake validates and submits stakes on prediction events.
package stake

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/allowance"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
)

// Request is one stake submission. The user is the signing account.
type Request struct {
	Event  common.Address
	Option domain.Option
	Amount *big.Int
}

// Trigger schedules coordinated refreshes after a confirmed mutation.
type Trigger interface {
	Trigger(reason string)
}

// Engine runs stake validation and submission.
type Engine struct {
	reader     domain.LedgerReader
	writer     domain.LedgerWriter
	allowances *allowance.Manager
	registry   *opstate.Registry
	refresher  Trigger
	user       common.Address
	now        func() time.Time
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for the end-time check.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfirmTimeout bounds the confirmation wait.
func WithConfirmTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine staking as user. refresher may be nil.
func NewEngine(reader domain.LedgerReader, writer domain.LedgerWriter, allowances *allowance.Manager, registry *opstate.Registry, refresher Trigger, user common.Address, opts ...Option) *Engine {
	e := &Engine{
		reader:     reader,
		writer:     writer,
		allowances: allowances,
		registry:   registry,
		refresher:  refresher,
		user:       user,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "stake"))
	return e
}

// User returns the staking account.
func (e *Engine) User() common.Address { return e.user }

// CheckRequest validates the request fields alone.
func CheckRequest(req Request) error {
	if !req.Option.Valid() {
		return fmt.Errorf("stake: option %d out of range: %w", req.Option, domain.ErrInvalidInput)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return fmt.Errorf("stake: amount must be positive: %w", domain.ErrInvalidInput)
	}
	return nil
}

// CheckSnapshot validates a request against one read of the event. It
// touches nothing outside snap.
func CheckSnapshot(snap domain.EventSnapshot, req Request, now time.Time) error {
	if err := CheckRequest(req); err != nil {
		return err
	}
	ev := snap.Event
	if ev.Status != domain.EventStatusOngoing {
		return fmt.Errorf("stake: event %s is %s: %w", ev.Address.Hex(), ev.Status, domain.ErrEventNotOpen)
	}
	if !now.Before(ev.EndTime) {
		return fmt.Errorf("stake: event %s ended at %s: %w", ev.Address.Hex(), ev.EndTime.UTC().Format(time.RFC3339), domain.ErrEventNotOpen)
	}
	if snap.Stake.Exists() && snap.Stake.SelectedOption != req.Option {
		return fmt.Errorf("stake: existing stake on option %d, requested %d: %w", snap.Stake.SelectedOption, req.Option, domain.ErrOpposingChoice)
	}
	return nil
}

// Prepare runs the full pre-broadcast validation in order: request fields,
// event open, same option, balance, allowance. The returned Check describes
// the allowance even when it is insufficient, so callers can size an
// approval; the error is then ErrInsufficientAllowance.
func (e *Engine) Prepare(ctx context.Context, snap domain.EventSnapshot, req Request) (allowance.Check, error) {
	if err := CheckSnapshot(snap, req, e.now()); err != nil {
		return allowance.Check{}, err
	}
	token := snap.Event.Token
	bal, err := e.reader.Balance(ctx, token, e.user)
	if err != nil {
		return allowance.Check{}, fmt.Errorf("stake: read balance: %w", err)
	}
	if bal.Cmp(req.Amount) < 0 {
		return allowance.Check{}, fmt.Errorf("stake: balance %s below %s: %w", bal, req.Amount, domain.ErrInsufficientBalance)
	}
	chk, err := e.allowances.EnsureAllowance(ctx, e.user, req.Event, token, req.Amount)
	if err != nil {
		return allowance.Check{}, err
	}
	if !chk.Sufficient {
		return chk, fmt.Errorf("stake: allowance %s below %s: %w", chk.Current, req.Amount, domain.ErrInsufficientAllowance)
	}
	return chk, nil
}

// Execute broadcasts a prepared stake through op and waits for it. A
// confirmed stake invalidates the spent allowance and triggers a refresh.
func (e *Engine) Execute(ctx context.Context, op *opstate.Machine, snap domain.EventSnapshot, req Request) (domain.Receipt, error) {
	rcpt, err := opstate.Execute(ctx, op, e.writer, domain.WriteRequest{
		Target: req.Event,
		Op:     domain.OpStake,
		Option: req.Option,
		Amount: req.Amount,
	}, e.timeout)
	if err != nil {
		e.logger.Warn("stake failed",
			slog.String("event", req.Event.Hex()),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return domain.Receipt{}, err
	}
	e.allowances.Invalidate(e.user, req.Event, snap.Event.Token)
	if e.refresher != nil {
		e.refresher.Trigger("stake confirmed")
	}
	e.logger.Info("stake confirmed",
		slog.String("event", req.Event.Hex()),
		slog.Int("option", int(req.Option)),
		slog.String("amount", req.Amount.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return rcpt, nil
}

// SubmitStake validates req and, if every check passes, hands the stake to
// the ledger. The returned channel carries Idle, Submitted, Confirming and
// then Confirmed or Failed, and is closed afterwards. Validation failures are
// returned directly and nothing is broadcast.
func (e *Engine) SubmitStake(ctx context.Context, req Request) (<-chan opstate.Transition, error) {
	if err := CheckRequest(req); err != nil {
		return nil, err
	}
	op, err := e.registry.Begin(ctx, domain.OperationKey{User: e.user, Event: req.Event}, domain.IntentStake, req.Amount)
	if err != nil {
		return nil, err
	}
	stream := op.Stream()

	snap, err := e.reader.ReadEvent(ctx, req.Event, e.user)
	if err != nil {
		err = fmt.Errorf("stake: read event %s: %w", req.Event.Hex(), err)
		_ = op.Fail(err)
		return nil, err
	}
	if _, err := e.Prepare(ctx, snap, req); err != nil {
		_ = op.Fail(err)
		return nil, err
	}

	go func() {
		_, _ = e.Execute(ctx, op, snap, req)
	}()
	return stream, nil
}
