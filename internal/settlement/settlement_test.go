package settlement

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWinningsScenario(t *testing.T) {
	net, err := NetPool(big.NewInt(500), 500)
	require.NoError(t, err)
	require.Equal(t, "475", net.String())

	got, err := ComputeWinnings(big.NewInt(100), big.NewInt(500), big.NewInt(300), 500)
	require.NoError(t, err)
	require.Equal(t, "158", got.String())
}

func TestComputeWinningsZeroWinningTotal(t *testing.T) {
	got, err := ComputeWinnings(big.NewInt(100), big.NewInt(500), big.NewInt(0), 250)
	require.NoError(t, err)
	require.Zero(t, got.Sign())

	got, err = ComputeWinnings(big.NewInt(100), big.NewInt(500), nil, 250)
	require.NoError(t, err)
	require.Zero(t, got.Sign())
}

func TestComputeWinningsRejectsBadInput(t *testing.T) {
	_, err := ComputeWinnings(big.NewInt(1), big.NewInt(10), big.NewInt(5), 10_001)
	require.ErrorIs(t, err, ErrFeeOutOfRange)

	_, err = ComputeWinnings(big.NewInt(-1), big.NewInt(10), big.NewInt(5), 0)
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ComputeWinnings(big.NewInt(1), big.NewInt(-10), big.NewInt(5), 0)
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func TestComputeWinningsMonotoneAndBounded(t *testing.T) {
	total := big.NewInt(1_000_003)
	win := big.NewInt(400_007)
	for _, fee := range []uint16{0, 1, 333, 500, 9_999, 10_000} {
		net, err := NetPool(total, fee)
		require.NoError(t, err)

		prev := big.NewInt(-1)
		for stake := int64(0); stake <= win.Int64(); stake += 9_973 {
			got, err := ComputeWinnings(big.NewInt(stake), total, win, fee)
			require.NoError(t, err)
			assert.True(t, got.Cmp(prev) >= 0, "fee %d stake %d not monotone", fee, stake)
			assert.True(t, got.Cmp(net) <= 0, "fee %d stake %d exceeds net pool", fee, stake)
			prev = got
		}
		all, err := ComputeWinnings(win, total, win, fee)
		require.NoError(t, err)
		assert.Equal(t, net.String(), all.String())
	}
}

func TestComputeWinningsFloors(t *testing.T) {
	// 1 * 10 / 3 = 3.33 -> 3
	got, err := ComputeWinnings(big.NewInt(1), big.NewInt(10), big.NewInt(3), 0)
	require.NoError(t, err)
	require.Equal(t, "3", got.String())
}

func TestCreatorFeeFullAndZero(t *testing.T) {
	fee, err := CreatorFee(big.NewInt(999), 10_000)
	require.NoError(t, err)
	assert.Equal(t, "999", fee.String())

	fee, err = CreatorFee(big.NewInt(999), 0)
	require.NoError(t, err)
	assert.Equal(t, "0", fee.String())

	fee, err = CreatorFee(big.NewInt(199), 50)
	require.NoError(t, err)
	assert.Equal(t, "0", fee.String())
}

func TestRefunds(t *testing.T) {
	r, err := ComputeRefund(big.NewInt(250))
	require.NoError(t, err)
	assert.Equal(t, "250", r.String())

	c, err := ComputeCreatorRefund(big.NewInt(75))
	require.NoError(t, err)
	assert.Equal(t, "75", c.String())

	_, err = ComputeRefund(big.NewInt(-1))
	require.ErrorIs(t, err, ErrNegativeAmount)

	z, err := ComputeCreatorRefund(nil)
	require.NoError(t, err)
	assert.Zero(t, z.Sign())
}

func TestFormatForDisplay(t *testing.T) {
	assert.Equal(t, "1.58", FormatForDisplay(big.NewInt(158), 2))
}
