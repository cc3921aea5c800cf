// Package allowance tracks ERC-20 spend authorizations and sizes approval
// requests from a per-token policy table.
package allowance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/refresh"
)

// DefaultMaxAge is how long a fetched allowance is trusted.
const DefaultMaxAge = 30 * time.Second

// Check is the outcome of EnsureAllowance.
type Check struct {
	Sufficient        bool
	Current           *big.Int
	Required          *big.Int
	RequestedApproval *big.Int // nil when Sufficient
	Token             Policy
}

// Config holds manager tuning.
type Config struct {
	MaxAge         time.Duration
	ConfirmTimeout time.Duration
}

type cacheKey struct {
	owner, spender, token common.Address
}

// Manager caches allowances per (owner, spender, token) and broadcasts
// approvals.
type Manager struct {
	reader   domain.LedgerReader
	writer   domain.LedgerWriter
	policies *PolicyTable
	cfg      Config
	clock    refresh.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	caches map[cacheKey]*refresh.Cache[*big.Int]
}

// NewManager creates a Manager. reader is normally a retrying reader over the
// same ledger as writer.
func NewManager(reader domain.LedgerReader, writer domain.LedgerWriter, policies *PolicyTable, cfg Config, clock refresh.Clock, logger *slog.Logger) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if clock == nil {
		clock = refresh.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		reader:   reader,
		writer:   writer,
		policies: policies,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With(slog.String("component", "allowance")),
		caches:   make(map[cacheKey]*refresh.Cache[*big.Int]),
	}
}

// Policies returns the token policy table.
func (m *Manager) Policies() *PolicyTable { return m.policies }

func (m *Manager) cache(owner, spender, token common.Address) *refresh.Cache[*big.Int] {
	k := cacheKey{owner, spender, token}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[k]
	if !ok {
		c = refresh.NewCache(func(ctx context.Context) (*big.Int, error) {
			return m.reader.Allowance(ctx, token, owner, spender)
		}, m.cfg.MaxAge, m.clock)
		m.caches[k] = c
	}
	return c
}

// CurrentAllowance returns the allowance owner granted spender, from cache
// when fresh.
func (m *Manager) CurrentAllowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error) {
	v, err := m.cache(owner, spender, token).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("allowance: read %s for %s: %w", token.Hex(), spender.Hex(), err)
	}
	return new(big.Int).Set(v), nil
}

// Cached returns the last fetched allowance and when it was fetched without
// touching the ledger.
func (m *Manager) Cached(owner, spender, token common.Address) (*big.Int, time.Time, bool) {
	v, at, ok := m.cache(owner, spender, token).Peek()
	if !ok || v == nil {
		return nil, time.Time{}, false
	}
	return new(big.Int).Set(v), at, true
}

// EnsureAllowance reports whether the current allowance covers required and,
// if not, how much to approve.
func (m *Manager) EnsureAllowance(ctx context.Context, owner, spender, token common.Address, required *big.Int) (Check, error) {
	if required == nil || required.Sign() < 0 {
		return Check{}, fmt.Errorf("allowance: required amount must be non-negative: %w", domain.ErrInvalidInput)
	}
	pol, err := m.policies.Lookup(token)
	if err != nil {
		return Check{}, err
	}
	cur, err := m.CurrentAllowance(ctx, owner, spender, token)
	if err != nil {
		return Check{}, err
	}
	chk := Check{
		Current:  cur,
		Required: new(big.Int).Set(required),
		Token:    pol,
	}
	if cur.Cmp(required) >= 0 {
		chk.Sufficient = true
		return chk, nil
	}
	chk.RequestedApproval = pol.ApprovalAmount(required)
	return chk, nil
}

// Approve broadcasts an approval of amount for spender through op, waits for
// it, then refetches the allowance. The signer is the owner.
func (m *Manager) Approve(ctx context.Context, op *opstate.Machine, spender, token common.Address, amount *big.Int) (domain.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		err := fmt.Errorf("allowance: approval amount must be positive: %w", domain.ErrInvalidInput)
		_ = op.Fail(err)
		return domain.Receipt{}, err
	}
	owner := op.Key().User
	rcpt, err := opstate.Execute(ctx, op, m.writer, domain.WriteRequest{
		Target:  token,
		Op:      domain.OpApprove,
		Spender: spender,
		Amount:  amount,
	}, m.cfg.ConfirmTimeout)
	if err != nil {
		return domain.Receipt{}, err
	}

	c := m.cache(owner, spender, token)
	c.Invalidate()
	if _, err := c.Get(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("refetch allowance after approval",
			slog.String("token", token.Hex()),
			slog.String("spender", spender.Hex()),
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("approval confirmed",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return rcpt, nil
}

// Invalidate drops one cached allowance.
func (m *Manager) Invalidate(owner, spender, token common.Address) {
	m.cache(owner, spender, token).Invalidate()
}

// Refresh implements refresh.Subscriber. Entries are invalidated and
// refetched lazily on their next read.
func (m *Manager) Refresh(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.caches {
		c.Invalidate()
	}
	return nil
}

var _ refresh.Subscriber = (*Manager)(nil)
