package orchestrator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

func common32(b byte) common.Hash {
	return common.BytesToHash([]byte{b})
}

func snapshot(status domain.EventStatus, stake domain.UserStake) domain.EventSnapshot {
	return domain.EventSnapshot{
		Event: domain.Event{
			Address:               event,
			Status:                status,
			Creator:               creator,
			WinningOption:         domain.OptionA,
			TotalStakedAmount:     big.NewInt(500),
			CreatorStakeAmount:    big.NewInt(20),
			CreatorFeeBasisPoints: 500,
		},
		Totals: domain.OptionTotals{big.NewInt(300), big.NewInt(200)},
		Stake:  stake,
		User:   wallet,
	}
}

func TestCheckClaimEligible(t *testing.T) {
	won := domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(100)}
	require.NoError(t, CheckClaim(snapshot(domain.EventStatusCompleted, won), domain.IntentReward))
	for _, s := range []domain.EventStatus{domain.EventStatusCancelled, domain.EventStatusRejected, domain.EventStatusNullified} {
		require.NoError(t, CheckClaim(snapshot(s, won), domain.IntentRefund), s)
	}

	snap := snapshot(domain.EventStatusNullified, domain.UserStake{})
	snap.User = creator
	require.NoError(t, CheckClaim(snap, domain.IntentCreatorRefund))
	snap.Event.CreatorRewardClaimed = true
	require.ErrorIs(t, CheckClaim(snap, domain.IntentCreatorRefund), domain.ErrAlreadyClaimed)
	snap = snapshot(domain.EventStatusCompleted, domain.UserStake{})
	snap.User = creator
	assert.Equal(t, domain.ReasonNotNullified, domain.ReasonOf(CheckClaim(snap, domain.IntentCreatorRefund)))
}

func TestCheckClaimAlreadyClaimed(t *testing.T) {
	claimed := domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(100), Claimed: true}
	for _, intent := range []domain.Intent{domain.IntentReward, domain.IntentRefund} {
		for _, s := range []domain.EventStatus{domain.EventStatusCompleted, domain.EventStatusNullified} {
			err := CheckClaim(snapshot(s, claimed), intent)
			assert.Equal(t, domain.KindAlreadyClaimed, domain.KindOf(err), "%s/%s", intent, s)
		}
	}
}

func TestExpectedClaim(t *testing.T) {
	snap := snapshot(domain.EventStatusCompleted, domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(100)})

	w, err := ExpectedClaim(snap, domain.IntentReward)
	require.NoError(t, err)
	assert.Equal(t, "158", w.String())

	r, err := ExpectedClaim(snap, domain.IntentRefund)
	require.NoError(t, err)
	assert.Equal(t, "100", r.String())

	c, err := ExpectedClaim(snap, domain.IntentCreatorRefund)
	require.NoError(t, err)
	assert.Equal(t, "20", c.String())

	_, err = ExpectedClaim(snap, domain.IntentApprove)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
