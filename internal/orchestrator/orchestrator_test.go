package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/allowance"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger"
	"github.com/alanyoungcy/predictstake/internal/ledger/ledgertest"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/refresh"
	"github.com/alanyoungcy/predictstake/internal/stake"
)

var (
	wallet  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	event   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	now     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func (c fixedClock) AfterFunc(d time.Duration, f func()) refresh.Timer { return time.AfterFunc(d, f) }

type triggers struct {
	mu      sync.Mutex
	reasons []string
}

func (t *triggers) Trigger(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reasons = append(t.reasons, reason)
}

func (t *triggers) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.reasons...)
}

type fixture struct {
	fake        *ledgertest.Fake
	orch        *Orchestrator
	registry    *opstate.Registry
	triggers    *triggers
	completions []Completion
	mu          sync.Mutex
}

func (f *fixture) done() []Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Completion(nil), f.completions...)
}

func ongoingEvent() domain.Event {
	return domain.Event{
		Address:           event,
		Question:          "Will it rain?",
		Outcomes:          [2]string{"Yes", "No"},
		StatusCode:        1,
		Status:            domain.EventStatusOngoing,
		EndTime:           now.Add(time.Hour),
		Creator:           creator,
		Token:             token,
		TotalStakedAmount: big.NewInt(0),
	}
}

func newFixture(t *testing.T, policy domain.ApprovalPolicy) *fixture {
	t.Helper()
	fake := ledgertest.New(wallet)
	fake.AddEvent(ongoingEvent(), domain.OptionTotals{big.NewInt(0), big.NewInt(0)})
	fake.SetBalance(token, wallet, big.NewInt(10_000_000))

	reader := ledger.NewRetryReader(fake, ledger.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil, nil)
	tc := domain.TokenConfig{Address: token, Symbol: "USDC", Decimals: 6, Approval: policy}
	if policy == domain.ApprovalMultiple {
		tc.ApprovalMultiple = 4
	}
	table, err := allowance.NewPolicyTable([]domain.TokenConfig{tc})
	require.NoError(t, err)

	clock := fixedClock{now}
	allow := allowance.NewManager(reader, fake, table, allowance.Config{}, clock, nil)
	reg := opstate.NewRegistry()
	trig := &triggers{}
	eng := stake.NewEngine(reader, fake, allow, reg, trig, wallet, stake.WithClock(clock.Now), stake.WithConfirmTimeout(time.Second))

	f := &fixture{fake: fake, registry: reg, triggers: trig}
	orch, err := New(Deps{
		Reader:     reader,
		Writer:     fake,
		Engine:     eng,
		Allowances: allow,
		Registry:   reg,
		Classifier: lifecycle.NewClassifier(lifecycle.DefaultTable()),
		Refresher:  trig,
	}, Config{ConfirmTimeout: time.Second}, WithClock(clock), WithCompletion(func(c Completion) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completions = append(f.completions, c)
	}))
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) settle(status domain.EventStatus, code uint8, fn func(*domain.Event)) {
	f.fake.UpdateEvent(event, func(e *domain.Event) {
		e.Status = status
		e.StatusCode = code
		if fn != nil {
			fn(e)
		}
	})
}

func TestApproveAndStakeTwoPhase(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	ctx := context.Background()

	res := f.orch.ApproveAndStake(ctx, event, domain.OptionA, big.NewInt(50))
	require.True(t, res.Success, res.Message)
	assert.True(t, res.NeedsResubmit)
	assert.Equal(t, domain.IntentApprove, res.Intent)
	assert.Equal(t, "50", res.RequestedApproval.String())
	writes := f.fake.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, domain.OpApprove, writes[0].Op)

	res = f.orch.ApproveAndStake(ctx, event, domain.OptionA, big.NewInt(50))
	require.True(t, res.Success, res.Message)
	assert.False(t, res.NeedsResubmit)
	assert.Equal(t, domain.IntentStake, res.Intent)
	assert.NotEmpty(t, res.TxHash)
	assert.Len(t, f.fake.Writes(), 2)

	done := f.done()
	require.Len(t, done, 2)
	assert.Equal(t, domain.IntentApprove, done[0].Intent)
	assert.Equal(t, domain.IntentStake, done[1].Intent)
	assert.Equal(t, []string{"stake confirmed"}, f.triggers.list())

	v, err := f.orch.View(ctx, event)
	require.NoError(t, err)
	assert.True(t, v.HasStake)
	assert.Equal(t, "0.00005", v.StakeAmount)
}

func TestApprovalUsesPolicyMultiple(t *testing.T) {
	f := newFixture(t, domain.ApprovalMultiple)
	res := f.orch.ApproveAndStake(context.Background(), event, domain.OptionB, big.NewInt(25))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "100", res.RequestedApproval.String())
}

func TestSubmitStakeParsesDisplayAmount(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.fake.SetAllowance(token, wallet, event, big.NewInt(10_000_000))

	res := f.orch.SubmitStake(context.Background(), event, domain.OptionA, "1.5")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "1500000", res.Amount)

	res = f.orch.SubmitStake(context.Background(), event, domain.OptionA, "0.0000001")
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindInvalidInput, res.ErrorKind)
}

func TestStakeValidationFailures(t *testing.T) {
	t.Run("scenario C expired ongoing", func(t *testing.T) {
		f := newFixture(t, domain.ApprovalExact)
		f.fake.UpdateEvent(event, func(e *domain.Event) { e.EndTime = now.Add(-time.Minute) })

		v, err := f.orch.View(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.OngoingExpired, v.Label)
		assert.False(t, v.CanStake)

		res := f.orch.ApproveAndStake(context.Background(), event, domain.OptionA, big.NewInt(5))
		assert.False(t, res.Success)
		assert.Equal(t, domain.KindEventNotOpen, res.ErrorKind)
		assert.Empty(t, f.fake.Writes())
	})
	t.Run("scenario D opposing choice", func(t *testing.T) {
		f := newFixture(t, domain.ApprovalExact)
		f.fake.SetStake(event, wallet, domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(50)})

		res := f.orch.ApproveAndStake(context.Background(), event, domain.OptionB, big.NewInt(5))
		assert.False(t, res.Success)
		assert.Equal(t, domain.KindOpposingChoice, res.ErrorKind)
		assert.Zero(t, f.fake.Calls().Allowance)
		assert.Empty(t, f.fake.Writes())
	})
	t.Run("insufficient balance", func(t *testing.T) {
		f := newFixture(t, domain.ApprovalExact)
		f.fake.SetBalance(token, wallet, big.NewInt(4))
		res := f.orch.ApproveAndStake(context.Background(), event, domain.OptionA, big.NewInt(5))
		assert.Equal(t, domain.KindInsufficientBalance, res.ErrorKind)
		assert.Zero(t, f.registry.InFlight())
	})
	t.Run("invalid option", func(t *testing.T) {
		f := newFixture(t, domain.ApprovalExact)
		res := f.orch.ApproveAndStake(context.Background(), event, domain.Option(7), big.NewInt(5))
		assert.Equal(t, domain.KindInvalidInput, res.ErrorKind)
		assert.Zero(t, f.fake.Calls().ReadEvent)
	})
}

func TestConcurrentActionRejected(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.fake.SetAllowance(token, wallet, event, big.NewInt(1000))
	release := f.fake.HoldConfirmations()

	first := make(chan ActionResult, 1)
	go func() {
		first <- f.orch.ApproveAndStake(context.Background(), event, domain.OptionA, big.NewInt(5))
	}()
	require.Eventually(t, func() bool { return f.fake.Calls().Await == 1 }, time.Second, time.Millisecond)

	res := f.orch.ClaimReward(context.Background(), event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindOperationInFlight, res.ErrorKind)

	v, err := f.orch.View(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, v.Operation)
	assert.Equal(t, domain.StateConfirming, v.Operation.State)
	assert.False(t, v.CanStake)

	release()
	assert.True(t, (<-first).Success)
}

func TestClaimRewardScenarioA(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.fake.AddEvent(func() domain.Event {
		e := ongoingEvent()
		e.Status, e.StatusCode = domain.EventStatusCompleted, 2
		e.TotalStakedAmount = big.NewInt(500)
		e.CreatorFeeBasisPoints = 500
		return e
	}(), domain.OptionTotals{big.NewInt(300), big.NewInt(200)})
	f.fake.SetStake(event, wallet, domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(100)})

	ctx := context.Background()
	v, err := f.orch.View(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Won, v.Label)
	assert.True(t, v.CanClaimReward)
	assert.Equal(t, "0.000158", v.ExpectedWinnings)

	res := f.orch.ClaimReward(ctx, event)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "158", res.Amount)
	assert.Equal(t, []string{"reward confirmed"}, f.triggers.list())

	// local flag until the next read
	v, err = f.orch.View(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Claimed, v.Label)
	assert.False(t, v.CanClaimReward)

	res = f.orch.ClaimReward(ctx, event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindAlreadyClaimed, res.ErrorKind)
	assert.Len(t, f.fake.Writes(), 1)
}

func TestClaimAlreadyClaimedNeverWrites(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusNullified, 5, nil)
	f.fake.SetStake(event, wallet, domain.UserStake{SelectedOption: domain.OptionB, Amount: big.NewInt(40), Claimed: true})

	res := f.orch.ClaimRefund(context.Background(), event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindAlreadyClaimed, res.ErrorKind)
	assert.Zero(t, f.fake.Calls().Write)
	assert.Zero(t, f.registry.InFlight())
}

func TestClaimIneligibleReasons(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(f *fixture)
		intent domain.Intent
		reason domain.Reason
	}{
		{"reward not completed", func(f *fixture) {
			f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(1)})
		}, domain.IntentReward, domain.ReasonNotCompleted},
		{"reward not winner", func(f *fixture) {
			f.settle(domain.EventStatusCompleted, 2, func(e *domain.Event) { e.WinningOption = domain.OptionB })
			f.fake.SetStake(event, wallet, domain.UserStake{SelectedOption: domain.OptionA, Amount: big.NewInt(1)})
		}, domain.IntentReward, domain.ReasonNotWinner},
		{"reward no stake", func(f *fixture) {
			f.settle(domain.EventStatusCompleted, 2, nil)
		}, domain.IntentReward, domain.ReasonNoStake},
		{"refund not refundable", func(f *fixture) {
			f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(1)})
		}, domain.IntentRefund, domain.ReasonNotNullified},
		{"creator refund not creator", func(f *fixture) {
			f.settle(domain.EventStatusCancelled, 3, nil)
		}, domain.IntentCreatorRefund, domain.ReasonNotCreator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, domain.ApprovalExact)
			tc.setup(f)
			res := f.orch.Claim(context.Background(), event, tc.intent)
			assert.False(t, res.Success)
			assert.Equal(t, domain.KindIneligible, res.ErrorKind)
			assert.Equal(t, tc.reason, res.Reason)
			assert.NotEmpty(t, res.Message)
			assert.Zero(t, f.fake.Calls().Write)
		})
	}
}

func TestClaimRejectsNonClaimIntent(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	res := f.orch.Claim(context.Background(), event, domain.IntentStake)
	assert.Equal(t, domain.KindInvalidInput, res.ErrorKind)
}

func TestScenarioBNullifiedRefund(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusNullified, 5, func(e *domain.Event) { e.NullificationReason = "oracle failure" })
	f.fake.SetStake(event, wallet, domain.UserStake{SelectedOption: domain.OptionB, Amount: big.NewInt(2_500_000)})

	v, err := f.orch.View(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NullifiedRefundable, v.Label)
	assert.True(t, v.CanClaimRefund)
	assert.False(t, v.CanClaimReward)
	assert.Equal(t, "2.5", v.RefundAmount)
	assert.Equal(t, "oracle failure", v.NullificationReason)

	res := f.orch.ClaimRefund(context.Background(), event)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "2500000", res.Amount)
	writes := f.fake.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, domain.OpClaimNullificationRefund, writes[0].Op)
}

func TestCreatorRefund(t *testing.T) {
	fake := ledgertest.New(creator)
	fake.AddEvent(func() domain.Event {
		e := ongoingEvent()
		e.Status, e.StatusCode = domain.EventStatusRejected, 4
		e.CreatorStakeAmount = big.NewInt(7_000_000)
		return e
	}(), domain.OptionTotals{})
	table, err := allowance.NewPolicyTable([]domain.TokenConfig{{Address: token, Symbol: "USDC", Decimals: 6}})
	require.NoError(t, err)
	allow := allowance.NewManager(fake, fake, table, allowance.Config{}, nil, nil)
	reg := opstate.NewRegistry()
	orch, err := New(Deps{
		Reader:     fake,
		Writer:     fake,
		Engine:     stake.NewEngine(fake, fake, allow, reg, nil, creator),
		Allowances: allow,
		Registry:   reg,
	}, Config{}, WithClock(fixedClock{now}))
	require.NoError(t, err)

	v, err := orch.View(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, v.IsCreator)
	assert.True(t, v.CanClaimCreatorRefund)
	assert.Equal(t, "7", v.CreatorRefundAmount)

	res := orch.ClaimCreatorRefund(context.Background(), event)
	require.True(t, res.Success, res.Message)

	res = orch.ClaimCreatorRefund(context.Background(), event)
	assert.Equal(t, domain.KindAlreadyClaimed, res.ErrorKind)
}

func TestDegradedReadIsRetryable(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.fake.FailReads(domain.ErrRateLimited, domain.ErrRateLimited, domain.ErrRateLimited)

	res := f.orch.ClaimReward(context.Background(), event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindDegraded, res.ErrorKind)
	assert.True(t, res.Retryable)
	assert.Equal(t, 3, f.fake.Calls().ReadEvent)
	assert.Zero(t, f.registry.InFlight())
}

func TestTransientReadRecovers(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusCancelled, 3, nil)
	f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(9)})
	f.fake.FailReads(domain.ErrRateLimited)

	res := f.orch.ClaimRefund(context.Background(), event)
	require.True(t, res.Success, res.Message)
}

func TestLedgerRejectionSurfacesReason(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusCancelled, 3, nil)
	f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(9)})
	f.fake.FailConfirmations(&domain.RevertError{Reason: domain.ReasonNotNullified, Message: "event not nullified"})

	res := f.orch.ClaimRefund(context.Background(), event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindRevertedByLedger, res.ErrorKind)
	assert.Equal(t, domain.ReasonNotNullified, res.Reason)
	assert.False(t, res.Retryable)
	assert.Empty(t, f.done())
}

func TestClaimRereadsPastConcurrentView(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusCancelled, 3, nil)
	f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(9)})

	started, release := f.fake.HoldNextRead()
	defer release()
	viewed := make(chan error, 1)
	go func() {
		_, err := f.orch.View(context.Background(), event)
		viewed <- err
	}()
	<-started
	f.fake.SetStake(event, wallet, domain.UserStake{Amount: big.NewInt(9), Claimed: true})
	timer := time.AfterFunc(2*time.Second, release)
	defer timer.Stop()

	res := f.orch.ClaimRefund(context.Background(), event)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindAlreadyClaimed, res.ErrorKind)
	assert.Zero(t, f.fake.Calls().Write)

	release()
	require.NoError(t, <-viewed)
}

func TestViewWithoutStakeHasNoPositionLabel(t *testing.T) {
	f := newFixture(t, domain.ApprovalExact)
	f.settle(domain.EventStatusCompleted, 2, func(e *domain.Event) { e.WinningOption = domain.OptionA })

	v, err := f.orch.View(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, v.HasStake)
	assert.Empty(t, v.Label)
	assert.False(t, v.CanClaimReward)
	assert.Equal(t, domain.EventStatusCompleted, v.Status)
}
