// Package ledgertest provides an in-memory domain.Ledger for tests. Writes
// take effect only when their confirmation is awaited, the way a real
// ledger applies a transaction once it is mined.
package ledgertest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

type eventState struct {
	event  domain.Event
	totals domain.OptionTotals
	stakes map[common.Address]domain.UserStake
}

type allowanceKey struct {
	token, owner, spender common.Address
}

type balanceKey struct {
	token, owner common.Address
}

// Calls counts reads and writes made against the fake.
type Calls struct {
	ReadEvent int
	Balance   int
	Allowance int
	Write     int
	Await     int
}

// Fake is a concurrency-safe in-memory ledger.
type Fake struct {
	mu         sync.Mutex
	sender     common.Address
	events     map[common.Address]*eventState
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	pending    map[common.Hash]domain.WriteRequest
	writes     []domain.WriteRequest
	calls      Calls
	nonce      uint64
	now        func() time.Time

	readErrs   []error
	writeErr   error
	confirmErr error
	gate       chan struct{}
	readHold   *readHold
}

type readHold struct {
	started chan struct{}
	gate    chan struct{}
}

// New creates a Fake whose writes are sent from sender.
func New(sender common.Address) *Fake {
	return &Fake{
		sender:     sender,
		events:     make(map[common.Address]*eventState),
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		pending:    make(map[common.Hash]domain.WriteRequest),
		now:        time.Now,
	}
}

// AddEvent registers ev with the given option totals.
func (f *Fake) AddEvent(ev domain.Event, totals domain.OptionTotals) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.Address] = &eventState{
		event:  ev,
		totals: domain.OptionTotals{copyInt(totals[0]), copyInt(totals[1])},
		stakes: make(map[common.Address]domain.UserStake),
	}
}

// UpdateEvent mutates a registered event in place.
func (f *Fake) UpdateEvent(addr common.Address, fn func(*domain.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.events[addr]; ok {
		fn(&st.event)
	}
}

// SetStake sets user's position in event.
func (f *Fake) SetStake(event, user common.Address, s domain.UserStake) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.events[event]; ok {
		s.Amount = copyInt(s.Amount)
		st.stakes[user] = s
	}
}

// SetBalance sets owner's token balance.
func (f *Fake) SetBalance(token, owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[balanceKey{token, owner}] = copyInt(v)
}

// SetAllowance sets the allowance owner granted spender.
func (f *Fake) SetAllowance(token, owner, spender common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[allowanceKey{token, owner, spender}] = copyInt(v)
}

// FailReads makes the next len(errs) reads fail with errs in order.
func (f *Fake) FailReads(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs = append(f.readErrs, errs...)
}

// FailWrites makes every Write fail with err before broadcast.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// FailConfirmations makes every AwaitConfirmation fail with err.
func (f *Fake) FailConfirmations(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmErr = err
}

// HoldConfirmations blocks AwaitConfirmation until the returned function is
// called.
func (f *Fake) HoldConfirmations() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldNextRead makes the next ReadEvent take its snapshot and then block
// until release is called. started is closed once the snapshot is taken.
func (f *Fake) HoldNextRead() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &readHold{started: make(chan struct{}), gate: make(chan struct{})}
	f.readHold = h
	var once sync.Once
	return h.started, func() { once.Do(func() { close(h.gate) }) }
}

// Writes returns every broadcast write in order.
func (f *Fake) Writes() []domain.WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WriteRequest(nil), f.writes...)
}

// Calls returns call counters.
func (f *Fake) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) popReadErr() error {
	if len(f.readErrs) == 0 {
		return nil
	}
	err := f.readErrs[0]
	f.readErrs = f.readErrs[1:]
	return err
}

func (f *Fake) ReadEvent(ctx context.Context, event, user common.Address) (domain.EventSnapshot, error) {
	snap, hold, err := f.readEvent(ctx, event, user)
	if err != nil || hold == nil {
		return snap, err
	}
	close(hold.started)
	select {
	case <-hold.gate:
		return snap, nil
	case <-ctx.Done():
		return domain.EventSnapshot{}, ctx.Err()
	}
}

func (f *Fake) readEvent(ctx context.Context, event, user common.Address) (domain.EventSnapshot, *readHold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.ReadEvent++
	if err := f.popReadErr(); err != nil {
		return domain.EventSnapshot{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return domain.EventSnapshot{}, nil, err
	}
	st, ok := f.events[event]
	if !ok {
		return domain.EventSnapshot{}, nil, domain.ErrNotFound
	}
	ev := st.event
	ev.CreatorStakeAmount = copyInt(ev.CreatorStakeAmount)
	ev.TotalStakedAmount = copyInt(ev.TotalStakedAmount)
	stake := st.stakes[user]
	stake.Amount = copyInt(stake.Amount)
	hold := f.readHold
	f.readHold = nil
	return domain.EventSnapshot{
		Event:     ev,
		Totals:    domain.OptionTotals{copyInt(st.totals[0]), copyInt(st.totals[1])},
		Stake:     stake,
		User:      user,
		FetchedAt: f.now(),
	}, hold, nil
}

func (f *Fake) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Balance++
	if err := f.popReadErr(); err != nil {
		return nil, err
	}
	return copyInt(f.balances[balanceKey{token, owner}]), nil
}

func (f *Fake) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Allowance++
	if err := f.popReadErr(); err != nil {
		return nil, err
	}
	return copyInt(f.allowances[allowanceKey{token, owner, spender}]), nil
}

func (f *Fake) Write(ctx context.Context, req domain.WriteRequest) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Write++
	if f.writeErr != nil {
		return domain.TxHandle{}, f.writeErr
	}
	if err := ctx.Err(); err != nil {
		return domain.TxHandle{}, err
	}
	req.Amount = copyInt(req.Amount)
	f.nonce++
	h := domain.TxHandle{
		Hash:  common.BigToHash(new(big.Int).SetUint64(f.nonce)),
		Op:    req.Op,
		Nonce: f.nonce,
	}
	f.pending[h.Hash] = req
	f.writes = append(f.writes, req)
	return h, nil
}

func (f *Fake) AwaitConfirmation(ctx context.Context, h domain.TxHandle) (domain.Receipt, error) {
	f.mu.Lock()
	f.calls.Await++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.pending[h.Hash]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	delete(f.pending, h.Hash)
	if f.confirmErr != nil {
		return domain.Receipt{}, f.confirmErr
	}
	f.apply(req)
	return domain.Receipt{TxHash: h.Hash, BlockNumber: h.Nonce, GasUsed: 21_000}, nil
}

func (f *Fake) apply(req domain.WriteRequest) {
	if req.Op == domain.OpApprove {
		f.allowances[allowanceKey{req.Target, f.sender, req.Spender}] = copyInt(req.Amount)
		return
	}
	st, ok := f.events[req.Target]
	if !ok {
		return
	}
	switch req.Op {
	case domain.OpStake:
		s := st.stakes[f.sender]
		if !s.Exists() {
			s = domain.UserStake{SelectedOption: req.Option, Amount: new(big.Int)}
		}
		s.Amount = new(big.Int).Add(s.Amount, req.Amount)
		st.stakes[f.sender] = s
		st.totals[req.Option] = new(big.Int).Add(orZero(st.totals[req.Option]), req.Amount)
		st.event.TotalStakedAmount = new(big.Int).Add(orZero(st.event.TotalStakedAmount), req.Amount)
		bk := balanceKey{st.event.Token, f.sender}
		f.balances[bk] = new(big.Int).Sub(orZero(f.balances[bk]), req.Amount)
		ak := allowanceKey{st.event.Token, f.sender, req.Target}
		f.allowances[ak] = new(big.Int).Sub(orZero(f.allowances[ak]), req.Amount)
	case domain.OpClaimReward, domain.OpClaimNullificationRefund:
		s := st.stakes[f.sender]
		s.Claimed = true
		st.stakes[f.sender] = s
	case domain.OpClaimCreatorStakeRefund:
		st.event.CreatorRewardClaimed = true
	}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var _ domain.Ledger = (*Fake)(nil)
