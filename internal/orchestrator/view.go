package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
	"github.com/alanyoungcy/predictstake/internal/settlement"
)

// fallbackDecimals formats tokens missing from the policy table.
const fallbackDecimals = 18

// View is the read model of one event for the wallet.
type View struct {
	Event               common.Address     `json:"event"`
	Question            string             `json:"question"`
	Outcomes            [2]string          `json:"outcomes"`
	Status              domain.EventStatus `json:"status"`
	StatusCode          uint8              `json:"status_code"`
	Label               lifecycle.Label    `json:"label,omitempty"`
	EndTime             time.Time          `json:"end_time"`
	Token               common.Address     `json:"token"`
	Symbol              string             `json:"symbol,omitempty"`
	Decimals            uint8              `json:"decimals"`
	TotalStaked         string             `json:"total_staked"`
	OptionTotals        [2]string          `json:"option_totals"`
	CreatorFee          string             `json:"creator_fee"`
	NullificationReason string             `json:"nullification_reason,omitempty"`

	HasStake       bool           `json:"has_stake"`
	SelectedOption *domain.Option `json:"selected_option,omitempty"`
	StakeAmount    string         `json:"stake_amount"`
	Claimed        bool           `json:"claimed"`
	IsCreator      bool           `json:"is_creator"`

	CanStake              bool `json:"can_stake"`
	CanClaimReward        bool `json:"can_claim_reward"`
	CanClaimRefund        bool `json:"can_claim_refund"`
	CanClaimCreatorRefund bool `json:"can_claim_creator_refund"`

	ExpectedWinnings    string `json:"expected_winnings"`
	RefundAmount        string `json:"refund_amount"`
	CreatorRefundAmount string `json:"creator_refund_amount"`

	Operation *OperationView `json:"operation,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// OperationView describes the operation holding the event's guard.
type OperationView struct {
	ID     string                `json:"id"`
	Intent domain.Intent         `json:"intent"`
	State  domain.OperationState `json:"state"`
}

// View reads event (from cache when fresh) and derives labels, eligibility
// and display amounts. While an operation on the event is in flight every
// Can* flag is false.
func (o *Orchestrator) View(ctx context.Context, event common.Address) (View, error) {
	snap, err := o.snapshots.get(ctx, event)
	if err != nil {
		return View{}, fmt.Errorf("orchestrator: view %s: %w", event.Hex(), err)
	}
	return o.buildView(snap, o.clock.Now())
}

func (o *Orchestrator) buildView(snap domain.EventSnapshot, now time.Time) (View, error) {
	ev := snap.Event
	decimals := uint8(fallbackDecimals)
	var symbol string
	if pol, err := o.deps.Allowances.Policies().Lookup(ev.Token); err == nil {
		decimals = pol.Decimals
		symbol = pol.Symbol
	}
	format := func(v *big.Int) string { return settlement.FormatForDisplay(v, decimals) }

	fee, err := settlement.CreatorFee(ev.TotalStakedAmount, ev.CreatorFeeBasisPoints)
	if err != nil {
		return View{}, fmt.Errorf("orchestrator: view %s: %w", ev.Address.Hex(), err)
	}
	v := View{
		Event:               ev.Address,
		Question:            ev.Question,
		Outcomes:            ev.Outcomes,
		Status:              ev.Status,
		StatusCode:          ev.StatusCode,
		Label:               o.deps.Classifier.Classify(lifecycle.InputFromSnapshot(snap, now)),
		EndTime:             ev.EndTime,
		Token:               ev.Token,
		Symbol:              symbol,
		Decimals:            decimals,
		TotalStaked:         format(ev.TotalStakedAmount),
		OptionTotals:        [2]string{format(snap.Totals.Of(domain.OptionA)), format(snap.Totals.Of(domain.OptionB))},
		CreatorFee:          format(fee),
		NullificationReason: ev.NullificationReason,
		HasStake:            snap.Stake.Exists(),
		StakeAmount:         format(snap.Stake.Amount),
		Claimed:             snap.Stake.Claimed,
		IsCreator:           snap.IsCreator(),
		ExpectedWinnings:    format(nil),
		RefundAmount:        format(nil),
		CreatorRefundAmount: format(nil),
		FetchedAt:           snap.FetchedAt,
	}
	if v.HasStake {
		opt := snap.Stake.SelectedOption
		v.SelectedOption = &opt
	} else if !v.Claimed && v.Label.StakeBound() {
		// no position to win, lose or refund
		v.Label = ""
	}

	v.CanStake = ev.Status == domain.EventStatusOngoing && now.Before(ev.EndTime)
	v.CanClaimReward = CheckClaim(snap, domain.IntentReward) == nil
	v.CanClaimRefund = CheckClaim(snap, domain.IntentRefund) == nil
	v.CanClaimCreatorRefund = CheckClaim(snap, domain.IntentCreatorRefund) == nil

	switch {
	case v.CanClaimReward:
		if w, err := ExpectedClaim(snap, domain.IntentReward); err == nil {
			v.ExpectedWinnings = format(w)
		}
	case v.HasStake && v.CanStake:
		// projected payout if the selected option wins at current totals
		w, err := settlement.ComputeWinnings(snap.Stake.Amount, ev.TotalStakedAmount, snap.Totals.Of(snap.Stake.SelectedOption), ev.CreatorFeeBasisPoints)
		if err == nil {
			v.ExpectedWinnings = format(w)
		}
	}
	if v.HasStake && refundStatus(ev.Status) {
		if r, err := ExpectedClaim(snap, domain.IntentRefund); err == nil {
			v.RefundAmount = format(r)
		}
	}
	if v.IsCreator && refundStatus(ev.Status) {
		if r, err := ExpectedClaim(snap, domain.IntentCreatorRefund); err == nil {
			v.CreatorRefundAmount = format(r)
		}
	}

	if m, ok := o.deps.Registry.Active(o.key(ev.Address)); ok {
		v.Operation = &OperationView{ID: m.ID(), Intent: m.Intent(), State: m.State()}
		v.CanStake = false
		v.CanClaimReward = false
		v.CanClaimRefund = false
		v.CanClaimCreatorRefund = false
	}
	return v, nil
}
