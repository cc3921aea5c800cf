package opstate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger/ledgertest"
)

func TestExecuteConfirms(t *testing.T) {
	fake := ledgertest.New(testKey.User)
	r := NewRegistry()
	m, err := r.Begin(context.Background(), testKey, domain.IntentApprove, big.NewInt(10))
	require.NoError(t, err)

	token := common.HexToAddress("0x0a")
	rcpt, err := Execute(context.Background(), m, fake, domain.WriteRequest{
		Target: token, Op: domain.OpApprove, Spender: testKey.Event, Amount: big.NewInt(10),
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, m.State())
	assert.Equal(t, rcpt.TxHash, m.TxHash())

	allow, err := fake.Allowance(context.Background(), token, testKey.User, testKey.Event)
	require.NoError(t, err)
	assert.Equal(t, "10", allow.String())
}

func TestExecuteCancelledBeforeBroadcast(t *testing.T) {
	fake := ledgertest.New(testKey.User)
	m, err := NewRegistry().Begin(context.Background(), testKey, domain.IntentReward, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Execute(ctx, m, fake, domain.WriteRequest{Target: testKey.Event, Op: domain.OpClaimReward}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StateFailed, m.State())
	assert.Zero(t, fake.Calls().Write)
}

func TestExecuteIgnoresCancellationAfterBroadcast(t *testing.T) {
	fake := ledgertest.New(testKey.User)
	release := fake.HoldConfirmations()
	m, err := NewRegistry().Begin(context.Background(), testKey, domain.IntentReward, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, m, fake, domain.WriteRequest{Target: testKey.Event, Op: domain.OpClaimReward}, 5*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool { return m.State() == domain.StateConfirming }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, domain.StateConfirming, m.State())

	release()
	require.NoError(t, <-done)
	assert.Equal(t, domain.StateConfirmed, m.State())
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	fake := ledgertest.New(testKey.User)
	defer fake.HoldConfirmations()()
	m, err := NewRegistry().Begin(context.Background(), testKey, domain.IntentReward, nil)
	require.NoError(t, err)

	_, err = Execute(context.Background(), m, fake, domain.WriteRequest{Target: testKey.Event, Op: domain.OpClaimReward}, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StateFailed, m.State())
}

func TestExecuteWriteFailure(t *testing.T) {
	fake := ledgertest.New(testKey.User)
	fake.FailWrites(domain.ErrUserRejected)
	m, err := NewRegistry().Begin(context.Background(), testKey, domain.IntentStake, big.NewInt(1))
	require.NoError(t, err)

	_, err = Execute(context.Background(), m, fake, domain.WriteRequest{Target: testKey.Event, Op: domain.OpStake, Amount: big.NewInt(1)}, time.Second)
	require.True(t, errors.Is(err, domain.ErrUserRejected))
	assert.Equal(t, domain.KindUserRejected, domain.KindOf(m.Err()))
}
