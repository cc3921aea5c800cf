package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventStatus is the ledger-side lifecycle state of a prediction event after
// its raw status code has been mapped through a StatusTable.
type EventStatus string

const (
	EventStatusPendingApproval EventStatus = "pending_approval"
	EventStatusOngoing         EventStatus = "ongoing"
	EventStatusClosed          EventStatus = "closed"
	EventStatusCompleted       EventStatus = "completed"
	EventStatusCancelled       EventStatus = "cancelled"
	EventStatusRejected        EventStatus = "rejected"
	EventStatusNullified       EventStatus = "nullified"
	EventStatusUnknown         EventStatus = "unknown"
)

// Option is one of the two outcomes of an event.
type Option uint8

const (
	OptionA Option = 0
	OptionB Option = 1
)

// Valid reports whether o names one of the two outcomes.
func (o Option) Valid() bool {
	return o == OptionA || o == OptionB
}

// Event is a prediction event as read from the ledger. This system never
// mutates it; every field is overwritten on the next read.
type Event struct {
	Address               common.Address
	Question              string
	Outcomes              [2]string
	StatusCode            uint8 // raw ledger code
	Status                EventStatus
	EndTime               time.Time
	WinningOption         Option // meaningful only when Completed
	Creator               common.Address
	Token                 common.Address
	CreatorStakeAmount    *big.Int
	TotalStakedAmount     *big.Int
	CreatorFeeBasisPoints uint16
	CreatorRewardClaimed  bool
	NullificationReason   string // only when Nullified
}

// OptionTotals holds the aggregated stake per option as reported by the
// ledger. The pair is expected to sum to Event.TotalStakedAmount but is never
// recomputed locally.
type OptionTotals [2]*big.Int

// Sum returns OptionTotals[0] + OptionTotals[1], treating nil as zero.
func (t OptionTotals) Sum() *big.Int {
	sum := new(big.Int)
	for _, v := range t {
		if v != nil {
			sum.Add(sum, v)
		}
	}
	return sum
}

// Of returns the total for option o, or zero when unknown.
func (t OptionTotals) Of(o Option) *big.Int {
	if !o.Valid() || t[o] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t[o])
}

// UserStake is a single user's position in an event.
type UserStake struct {
	SelectedOption Option
	Amount         *big.Int // base units
	Claimed        bool
}

// Exists reports whether the user has a confirmed stake.
func (s UserStake) Exists() bool {
	return s.Amount != nil && s.Amount.Sign() > 0
}

// EventSnapshot is one read of an event together with the user's stake.
type EventSnapshot struct {
	Event     Event
	Totals    OptionTotals
	Stake     UserStake
	User      common.Address
	FetchedAt time.Time
}

// IsCreator reports whether the snapshot's user created the event.
func (s EventSnapshot) IsCreator() bool {
	return s.User != (common.Address{}) && s.User == s.Event.Creator
}

// ApprovalPolicy controls how large an approval request is when the current
// allowance does not cover a stake.
type ApprovalPolicy string

const (
	// ApprovalExact approves exactly the required amount.
	ApprovalExact ApprovalPolicy = "exact"
	// ApprovalMultiple approves a configured multiple of the required amount.
	ApprovalMultiple ApprovalPolicy = "multiple"
)

// TokenConfig is static per-token metadata.
type TokenConfig struct {
	Address          common.Address
	Symbol           string
	Decimals         uint8
	Approval         ApprovalPolicy
	ApprovalMultiple int64
}
