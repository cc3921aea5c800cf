package orchestrator

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/settlement"
)

func refundStatus(s domain.EventStatus) bool {
	switch s {
	case domain.EventStatusCancelled, domain.EventStatusRejected, domain.EventStatusNullified:
		return true
	default:
		return false
	}
}

// CheckClaim returns nil when snap allows intent, domain.ErrAlreadyClaimed
// when the claim already went through, and an *domain.IneligibleError
// otherwise.
func CheckClaim(snap domain.EventSnapshot, intent domain.Intent) error {
	ev := snap.Event
	switch intent {
	case domain.IntentReward:
		if !snap.Stake.Exists() {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNoStake}
		}
		if snap.Stake.Claimed {
			return fmt.Errorf("orchestrator: reward on %s: %w", ev.Address.Hex(), domain.ErrAlreadyClaimed)
		}
		if ev.Status != domain.EventStatusCompleted {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNotCompleted}
		}
		if snap.Stake.SelectedOption != ev.WinningOption {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNotWinner}
		}
		return nil
	case domain.IntentRefund:
		if !snap.Stake.Exists() {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNoStake}
		}
		if snap.Stake.Claimed {
			return fmt.Errorf("orchestrator: refund on %s: %w", ev.Address.Hex(), domain.ErrAlreadyClaimed)
		}
		if !refundStatus(ev.Status) {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNotNullified}
		}
		return nil
	case domain.IntentCreatorRefund:
		if !snap.IsCreator() {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNotCreator}
		}
		if ev.CreatorRewardClaimed {
			return fmt.Errorf("orchestrator: creator refund on %s: %w", ev.Address.Hex(), domain.ErrAlreadyClaimed)
		}
		if !refundStatus(ev.Status) {
			return &domain.IneligibleError{Intent: intent, Reason: domain.ReasonNotNullified}
		}
		return nil
	default:
		return fmt.Errorf("orchestrator: %q is not a claim: %w", intent, domain.ErrInvalidInput)
	}
}

// ExpectedClaim returns what a claim of intent pays out under snap. It does
// not check eligibility.
func ExpectedClaim(snap domain.EventSnapshot, intent domain.Intent) (*big.Int, error) {
	ev := snap.Event
	switch intent {
	case domain.IntentReward:
		return settlement.ComputeWinnings(snap.Stake.Amount, ev.TotalStakedAmount, snap.Totals.Of(ev.WinningOption), ev.CreatorFeeBasisPoints)
	case domain.IntentRefund:
		return settlement.ComputeRefund(snap.Stake.Amount)
	case domain.IntentCreatorRefund:
		return settlement.ComputeCreatorRefund(ev.CreatorStakeAmount)
	default:
		return nil, fmt.Errorf("orchestrator: %q is not a claim: %w", intent, domain.ErrInvalidInput)
	}
}
