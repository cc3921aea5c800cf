// Package settlement computes pari-mutuel payouts in integer base units.
// Every division floors, matching the ledger's own arithmetic.
package settlement

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/predictstake/internal/amount"
)

// MaxFeeBasisPoints is 100%.
const MaxFeeBasisPoints = 10_000

var (
	ErrFeeOutOfRange  = errors.New("settlement: fee basis points out of range")
	ErrNegativeAmount = errors.New("settlement: negative amount")
)

var bpsDenominator = big.NewInt(MaxFeeBasisPoints)

// CreatorFee returns floor(total * feeBps / 10000).
func CreatorFee(total *big.Int, feeBps uint16) (*big.Int, error) {
	if err := checkFee(feeBps); err != nil {
		return nil, err
	}
	if err := checkNonNegative("total", total); err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(orZero(total), big.NewInt(int64(feeBps)))
	return fee.Quo(fee, bpsDenominator), nil
}

// NetPool returns total minus the creator fee.
func NetPool(total *big.Int, feeBps uint16) (*big.Int, error) {
	fee, err := CreatorFee(total, feeBps)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(orZero(total), fee), nil
}

// ComputeWinnings returns floor(userStake * netPool / winTotal), or zero when
// nobody staked on the winning option.
func ComputeWinnings(userStake, totalStaked, winningOptionTotal *big.Int, feeBps uint16) (*big.Int, error) {
	if err := checkNonNegative("user stake", userStake); err != nil {
		return nil, err
	}
	if err := checkNonNegative("winning option total", winningOptionTotal); err != nil {
		return nil, err
	}
	net, err := NetPool(totalStaked, feeBps)
	if err != nil {
		return nil, err
	}
	win := orZero(winningOptionTotal)
	if win.Sign() == 0 {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(orZero(userStake), net)
	return out.Quo(out, win), nil
}

// ComputeRefund returns the refund for a cancelled, rejected or nullified
// event: the full stake.
func ComputeRefund(userStake *big.Int) (*big.Int, error) {
	if err := checkNonNegative("user stake", userStake); err != nil {
		return nil, err
	}
	return new(big.Int).Set(orZero(userStake)), nil
}

// ComputeCreatorRefund returns the creator's refundable stake.
func ComputeCreatorRefund(creatorStake *big.Int) (*big.Int, error) {
	if err := checkNonNegative("creator stake", creatorStake); err != nil {
		return nil, err
	}
	return new(big.Int).Set(orZero(creatorStake)), nil
}

// FormatForDisplay renders base units for presentation.
func FormatForDisplay(v *big.Int, decimals uint8) string {
	return amount.FormatUnits(v, decimals)
}

func checkFee(feeBps uint16) error {
	if feeBps > MaxFeeBasisPoints {
		return fmt.Errorf("%w: %d", ErrFeeOutOfRange, feeBps)
	}
	return nil
}

func checkNonNegative(name string, v *big.Int) error {
	if v != nil && v.Sign() < 0 {
		return fmt.Errorf("%w: %s %s", ErrNegativeAmount, name, v)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
