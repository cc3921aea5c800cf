// Package opstate tracks orchestrated ledger writes through
// Idle -> Submitted -> Confirming -> Confirmed | Failed and enforces that at
// most one such write is in flight per (user, event).
package opstate

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// ErrInvalidTransition is returned for a transition the state graph forbids.
var ErrInvalidTransition = errors.New("opstate: invalid transition")

// Transition is one state change of a Machine.
type Transition struct {
	OperationID string
	Key         domain.OperationKey
	Intent      domain.Intent
	Amount      *big.Int
	From        domain.OperationState // empty for the initial Idle
	To          domain.OperationState
	TxHash      common.Hash
	Err         error
	At          time.Time
}

// Kind returns the error kind of a failed transition.
func (t Transition) Kind() domain.ErrorKind {
	return domain.KindOf(t.Err)
}

var allowed = map[domain.OperationState][]domain.OperationState{
	domain.StateIdle:       {domain.StateSubmitted, domain.StateFailed},
	domain.StateSubmitted:  {domain.StateConfirming, domain.StateFailed},
	domain.StateConfirming: {domain.StateConfirmed, domain.StateFailed},
}

// Machine is a single operation's state. Safe for concurrent use.
type Machine struct {
	id     string
	key    domain.OperationKey
	intent domain.Intent
	amount *big.Int
	now    func() time.Time

	mu        sync.Mutex
	state     domain.OperationState
	txHash    common.Hash
	err       error
	observers []func(Transition)
	done      chan struct{}
}

func newMachine(id string, key domain.OperationKey, intent domain.Intent, amount *big.Int, now func() time.Time) *Machine {
	return &Machine{
		id:     id,
		key:    key,
		intent: intent,
		amount: amount,
		now:    now,
		state:  domain.StateIdle,
		done:   make(chan struct{}),
	}
}

// ID returns the operation id.
func (m *Machine) ID() string { return m.id }

// Key returns the guard key.
func (m *Machine) Key() domain.OperationKey { return m.key }

// Intent returns what the operation does.
func (m *Machine) Intent() domain.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent
}

// Amount returns the operation amount, nil for claims.
func (m *Machine) Amount() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amount
}

// Retarget changes what an Idle operation will do. A guard taken for a stake
// that turns out to need an approval first keeps the same key.
func (m *Machine) Retarget(intent domain.Intent, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateIdle {
		return fmt.Errorf("%w: retarget in %s", ErrInvalidTransition, m.state)
	}
	m.intent = intent
	m.amount = amount
	return nil
}

// State returns the current state.
func (m *Machine) State() domain.OperationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TxHash returns the broadcast hash, zero before Confirming.
func (m *Machine) TxHash() common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txHash
}

// Err returns the failure cause once Failed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed when the machine reaches a terminal state.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Observe registers fn for every later transition. Observers run
// synchronously, in registration order, outside the machine's lock.
func (m *Machine) Observe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Stream returns a channel receiving every later transition, preceded by the
// initial Idle when the machine has not moved yet. It is closed after the
// terminal transition.
func (m *Machine) Stream() <-chan Transition {
	ch := make(chan Transition, len(allowed)+1)
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	if m.state == domain.StateIdle {
		ch <- Transition{
			OperationID: m.id,
			Key:         m.key,
			Intent:      m.intent,
			Amount:      m.amount,
			To:          domain.StateIdle,
			At:          m.now(),
		}
	}
	m.observers = append(m.observers, func(t Transition) {
		ch <- t
		if t.To.Terminal() {
			close(ch)
		}
	})
	m.mu.Unlock()
	return ch
}

// Submit moves Idle -> Submitted: the write was handed to the signer.
func (m *Machine) Submit() error {
	return m.transition(domain.StateSubmitted, common.Hash{}, nil)
}

// Confirming moves Submitted -> Confirming once the write was broadcast.
func (m *Machine) Confirming(hash common.Hash) error {
	return m.transition(domain.StateConfirming, hash, nil)
}

// Confirm moves Confirming -> Confirmed.
func (m *Machine) Confirm() error {
	return m.transition(domain.StateConfirmed, common.Hash{}, nil)
}

// Fail moves any non-terminal state to Failed.
func (m *Machine) Fail(cause error) error {
	if cause == nil {
		cause = errors.New("opstate: failed without cause")
	}
	return m.transition(domain.StateFailed, common.Hash{}, cause)
}

func (m *Machine) transition(to domain.OperationState, hash common.Hash, cause error) error {
	m.mu.Lock()
	from := m.state
	if !canMove(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	if hash != (common.Hash{}) {
		m.txHash = hash
	}
	if cause != nil {
		m.err = cause
	}
	t := Transition{
		OperationID: m.id,
		Key:         m.key,
		Intent:      m.intent,
		Amount:      m.amount,
		From:        from,
		To:          to,
		TxHash:      m.txHash,
		Err:         cause,
		At:          m.now(),
	}
	observers := append([]func(Transition){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(t)
	}
	if to.Terminal() {
		close(m.done)
	}
	return nil
}

func canMove(from, to domain.OperationState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
