package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Intent names the action an orchestrated operation performs.
type Intent string

const (
	IntentApprove       Intent = "approve"
	IntentStake         Intent = "stake"
	IntentReward        Intent = "reward"
	IntentRefund        Intent = "refund"
	IntentCreatorRefund Intent = "creator_refund"
)

// ParseClaimIntent maps a wire name to one of the three claim intents.
func ParseClaimIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentReward, IntentRefund, IntentCreatorRefund:
		return Intent(s), true
	default:
		return "", false
	}
}

// LedgerOp is a write operation understood by the ledger.
type LedgerOp string

const (
	OpApprove                  LedgerOp = "approve"
	OpStake                    LedgerOp = "stake"
	OpClaimReward              LedgerOp = "claimReward"
	OpClaimNullificationRefund LedgerOp = "claimNullificationRefund"
	OpClaimCreatorStakeRefund  LedgerOp = "claimCreatorStakeRefund"
)

// LedgerOpFor returns the ledger write that carries out a claim intent.
func LedgerOpFor(intent Intent) (LedgerOp, bool) {
	switch intent {
	case IntentReward:
		return OpClaimReward, true
	case IntentRefund:
		return OpClaimNullificationRefund, true
	case IntentCreatorRefund:
		return OpClaimCreatorStakeRefund, true
	case IntentStake:
		return OpStake, true
	case IntentApprove:
		return OpApprove, true
	default:
		return "", false
	}
}

// OperationState tracks one orchestrated write.
type OperationState string

const (
	StateIdle       OperationState = "idle"
	StateSubmitted  OperationState = "submitted"
	StateConfirming OperationState = "confirming"
	StateConfirmed  OperationState = "confirmed"
	StateFailed     OperationState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s OperationState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// OperationKey scopes the single-writer guard.
type OperationKey struct {
	User  common.Address
	Event common.Address
}

// String renders the key for logs and lock names.
func (k OperationKey) String() string {
	return k.User.Hex() + ":" + k.Event.Hex()
}

// TxHandle identifies a broadcast write.
type TxHandle struct {
	Hash  common.Hash
	Op    LedgerOp
	Nonce uint64
}

// Receipt is the confirmed outcome of a write.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// OperationRecord is the journaled form of one orchestrated operation.
type OperationRecord struct {
	ID        string
	User      common.Address
	Event     common.Address
	Intent    Intent
	State     OperationState
	Amount    *big.Int
	TxHash    string
	ErrorKind ErrorKind
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
