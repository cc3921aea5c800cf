package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/crypto"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	eventAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type fakeBackend struct {
	mu        sync.Mutex
	outputs   map[string][]any
	callErr   map[string]error
	blocks    []*big.Int
	estimate  error
	sent      []*types.Transaction
	receipts  []*types.Receipt
	headBlock int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{outputs: map[string][]any{}, callErr: map[string]error{}, headBlock: 100}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, block)
	method, err := eventABI.MethodById(msg.Data[:4])
	if err != nil {
		method, err = erc20ABI.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
	}
	if err := f.callErr[method.Name]; err != nil {
		return nil, err
	}
	vals, ok := f.outputs[method.Name]
	if !ok {
		return nil, nil
	}
	return method.Outputs.Pack(vals...)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 5, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(f.headBlock), BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == h {
			return tx, false, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func newTestLedger(t *testing.T, b *fakeBackend) *Ledger {
	t.Helper()
	signer, err := crypto.NewSigner(devKey)
	require.NoError(t, err)
	l, err := New(context.Background(), b, Config{PollInterval: time.Millisecond}, signer, lifecycle.DefaultTable(), nil)
	require.NoError(t, err)
	return l
}

func eventDetailsOutput(status uint8) []any {
	return []any{
		"Will it rain?", "Yes", "No", status, big.NewInt(1_700_000_000), uint8(1),
		creator, tokenAddr, big.NewInt(10), big.NewInt(500), uint16(500), false,
	}
}

func TestReadEventDecodesSnapshot(t *testing.T) {
	b := newFakeBackend()
	b.outputs["getEventDetails"] = eventDetailsOutput(5)
	b.outputs["getOptionTotals"] = []any{big.NewInt(200), big.NewInt(300)}
	b.outputs["getUserStake"] = []any{uint8(1), big.NewInt(40), false}
	b.outputs["nullificationReason"] = []any{"oracle failure"}
	l := newTestLedger(t, b)

	user := l.Account()
	snap, err := l.ReadEvent(context.Background(), eventAddr, user)
	require.NoError(t, err)

	ev := snap.Event
	assert.Equal(t, "Will it rain?", ev.Question)
	assert.Equal(t, [2]string{"Yes", "No"}, ev.Outcomes)
	assert.Equal(t, domain.EventStatusNullified, ev.Status)
	assert.Equal(t, "oracle failure", ev.NullificationReason)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), ev.EndTime)
	assert.Equal(t, domain.OptionB, ev.WinningOption)
	assert.Equal(t, creator, ev.Creator)
	assert.Equal(t, uint16(500), ev.CreatorFeeBasisPoints)
	assert.Equal(t, "500", snap.Totals.Sum().String())
	assert.Equal(t, domain.OptionB, snap.Stake.SelectedOption)
	assert.Equal(t, "40", snap.Stake.Amount.String())
	assert.Equal(t, user, snap.User)

	for _, blk := range b.blocks {
		assert.Equal(t, int64(100), blk.Int64(), "reads pinned to head")
	}
}

func TestReadEventWithoutUserSkipsStake(t *testing.T) {
	b := newFakeBackend()
	b.outputs["getEventDetails"] = eventDetailsOutput(1)
	b.outputs["getOptionTotals"] = []any{big.NewInt(0), big.NewInt(0)}
	l := newTestLedger(t, b)

	snap, err := l.ReadEvent(context.Background(), eventAddr, common.Address{})
	require.NoError(t, err)
	assert.False(t, snap.Stake.Exists())
	assert.Equal(t, domain.EventStatusOngoing, snap.Event.Status)
	assert.Len(t, b.blocks, 2)
}

func TestReadEventMissingContract(t *testing.T) {
	l := newTestLedger(t, newFakeBackend())
	_, err := l.ReadEvent(context.Background(), eventAddr, common.Address{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalanceAndAllowance(t *testing.T) {
	b := newFakeBackend()
	b.outputs["balanceOf"] = []any{big.NewInt(1234)}
	b.outputs["allowance"] = []any{big.NewInt(55)}
	l := newTestLedger(t, b)

	bal, err := l.Balance(context.Background(), tokenAddr, l.Account())
	require.NoError(t, err)
	assert.Equal(t, "1234", bal.String())

	allow, err := l.Allowance(context.Background(), tokenAddr, l.Account(), eventAddr)
	require.NoError(t, err)
	assert.Equal(t, "55", allow.String())
}

func TestWriteStakeBuildsSignedTx(t *testing.T) {
	b := newFakeBackend()
	l := newTestLedger(t, b)

	h, err := l.Write(context.Background(), domain.WriteRequest{
		Target: eventAddr,
		Op:     domain.OpStake,
		Option: domain.OptionB,
		Amount: big.NewInt(77),
	})
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	tx := b.sent[0]

	assert.Equal(t, h.Hash, tx.Hash())
	assert.Equal(t, uint64(5), h.Nonce)
	assert.Equal(t, eventAddr, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, "21000000000", tx.GasFeeCap().String())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, l.Account(), from)

	method, err := eventABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "stake", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, uint8(1), args[0])
	assert.Equal(t, "77", args[1].(*big.Int).String())
}

func TestWriteApproveTargetsToken(t *testing.T) {
	b := newFakeBackend()
	l := newTestLedger(t, b)

	_, err := l.Write(context.Background(), domain.WriteRequest{
		Target:  tokenAddr,
		Op:      domain.OpApprove,
		Spender: eventAddr,
		Amount:  big.NewInt(500),
	})
	require.NoError(t, err)
	tx := b.sent[0]
	assert.Equal(t, tokenAddr, *tx.To())
	method, err := erc20ABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "approve", method.Name)
}

func TestWriteRejectsBadArgs(t *testing.T) {
	l := newTestLedger(t, newFakeBackend())
	_, err := l.Write(context.Background(), domain.WriteRequest{Target: eventAddr, Op: domain.OpStake, Option: 2, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = l.Write(context.Background(), domain.WriteRequest{Target: eventAddr, Op: "mint"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWriteEstimateRevertIsClassified(t *testing.T) {
	b := newFakeBackend()
	b.estimate = errors.New("execution reverted: Not a winner")
	l := newTestLedger(t, b)

	_, err := l.Write(context.Background(), domain.WriteRequest{Target: eventAddr, Op: domain.OpClaimReward})
	require.Error(t, err)
	assert.Equal(t, domain.KindRevertedByLedger, domain.KindOf(err))
	assert.Equal(t, domain.ReasonNotWinner, domain.ReasonOf(err))
	assert.Empty(t, b.sent)
}

func TestAwaitConfirmationPollsUntilMined(t *testing.T) {
	b := newFakeBackend()
	l := newTestLedger(t, b)
	h, err := l.Write(context.Background(), domain.WriteRequest{Target: eventAddr, Op: domain.OpClaimReward})
	require.NoError(t, err)

	b.receipts = []*types.Receipt{nil, nil, {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99), GasUsed: 42_000}}
	rcpt, err := l.AwaitConfirmation(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), rcpt.BlockNumber)
	assert.Equal(t, uint64(42_000), rcpt.GasUsed)
	assert.Equal(t, h.Hash, rcpt.TxHash)
}

func TestAwaitConfirmationRecoversRevertReason(t *testing.T) {
	b := newFakeBackend()
	l := newTestLedger(t, b)
	h, err := l.Write(context.Background(), domain.WriteRequest{Target: eventAddr, Op: domain.OpClaimNullificationRefund})
	require.NoError(t, err)

	b.receipts = []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(101)}}
	b.callErr["claimNullificationRefund"] = errors.New("execution reverted: Event not nullified")

	_, err = l.AwaitConfirmation(context.Background(), h)
	require.Error(t, err)
	assert.Equal(t, domain.KindRevertedByLedger, domain.KindOf(err))
	assert.Equal(t, domain.ReasonNotNullified, domain.ReasonOf(err))
}

func TestAwaitConfirmationHonoursContext(t *testing.T) {
	b := newFakeBackend()
	l := newTestLedger(t, b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.AwaitConfirmation(ctx, domain.TxHandle{Hash: common.HexToHash("0xabc")})
	require.Error(t, err)
	assert.Equal(t, domain.KindNetworkTimeout, domain.KindOf(err))
}

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

func TestWithRevertReasonDecodesPayload(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack("Already claimed")
	require.NoError(t, err)
	payload := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)

	err = withRevertReason(dataError{msg: "execution reverted", data: hexutil.Encode(payload)})
	assert.Contains(t, err.Error(), "Already claimed")

	plain := errors.New("boom")
	assert.Equal(t, plain, withRevertReason(plain))
}
