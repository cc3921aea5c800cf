// Package lifecycle classifies an event and a user's stake into a single
// display label and answers which claims are currently legal.
package lifecycle

import (
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// Label is the combined lifecycle state of an event/stake pair.
type Label string

const (
	PendingApproval     Label = "PendingApproval"
	Ongoing             Label = "Ongoing"
	OngoingExpired      Label = "OngoingExpired"
	Won                 Label = "Won"
	Lost                Label = "Lost"
	Claimed             Label = "Claimed"
	CancelledRefundable Label = "CancelledRefundable"
	RejectedRefundable  Label = "RejectedRefundable"
	NullifiedRefundable Label = "NullifiedRefundable"
	RefundClaimed       Label = "RefundClaimed"
	Unknown             Label = "Unknown"
)

// StakeBound reports whether l describes the user's position rather than the
// event alone.
func (l Label) StakeBound() bool {
	switch l {
	case Won, Lost, Claimed, CancelledRefundable, RejectedRefundable, NullifiedRefundable, RefundClaimed:
		return true
	default:
		return false
	}
}

// Input is everything Classify looks at.
type Input struct {
	StatusCode           uint8
	EndTime              time.Time
	Now                  time.Time
	WinningOption        domain.Option
	SelectedOption       domain.Option
	Claimed              bool
	IsCreator            bool
	CreatorRewardClaimed bool
}

// InputFromSnapshot builds an Input from a ledger snapshot.
func InputFromSnapshot(snap domain.EventSnapshot, now time.Time) Input {
	return Input{
		StatusCode:           snap.Event.StatusCode,
		EndTime:              snap.Event.EndTime,
		Now:                  now,
		WinningOption:        snap.Event.WinningOption,
		SelectedOption:       snap.Stake.SelectedOption,
		Claimed:              snap.Stake.Claimed,
		IsCreator:            snap.IsCreator(),
		CreatorRewardClaimed: snap.Event.CreatorRewardClaimed,
	}
}

// Classifier applies a StatusTable to raw codes before classifying.
type Classifier struct {
	table StatusTable
}

// NewClassifier creates a Classifier over table.
func NewClassifier(table StatusTable) *Classifier {
	return &Classifier{table: table}
}

// Table returns the classifier's status table.
func (c *Classifier) Table() StatusTable {
	return c.table
}

// Classify returns exactly one label for any input.
func (c *Classifier) Classify(in Input) Label {
	switch c.table.Status(in.StatusCode) {
	case domain.EventStatusPendingApproval:
		return PendingApproval
	case domain.EventStatusOngoing:
		if in.Now.Before(in.EndTime) {
			return Ongoing
		}
		return OngoingExpired
	case domain.EventStatusCompleted:
		if in.SelectedOption != in.WinningOption {
			return Lost
		}
		if in.Claimed {
			return Claimed
		}
		return Won
	case domain.EventStatusCancelled:
		return refundable(in.Claimed, CancelledRefundable)
	case domain.EventStatusRejected:
		return refundable(in.Claimed, RejectedRefundable)
	case domain.EventStatusNullified:
		return refundable(in.Claimed, NullifiedRefundable)
	default:
		return Unknown
	}
}

// RefundStatus reports whether code maps to cancelled, rejected or nullified.
func (c *Classifier) RefundStatus(code uint8) bool {
	switch c.table.Status(code) {
	case domain.EventStatusCancelled, domain.EventStatusRejected, domain.EventStatusNullified:
		return true
	default:
		return false
	}
}

// CreatorRefundEligible reports whether the creator may reclaim their stake.
func (c *Classifier) CreatorRefundEligible(in Input) bool {
	return in.IsCreator && c.RefundStatus(in.StatusCode) && !in.CreatorRewardClaimed
}

var defaultClassifier = NewClassifier(DefaultTable())

// Classify classifies in under the default status table.
func Classify(in Input) Label {
	return defaultClassifier.Classify(in)
}

// CreatorRefundEligible applies the default status table.
func CreatorRefundEligible(in Input) bool {
	return defaultClassifier.CreatorRefundEligible(in)
}

func refundable(claimed bool, open Label) Label {
	if claimed {
		return RefundClaimed
	}
	return open
}
