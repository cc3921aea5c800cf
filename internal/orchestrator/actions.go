package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/amount"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/stake"
)

// ApproveAndStake stakes amount base units on option. When the allowance does
// not cover amount it broadcasts an approval sized by the token policy,
// waits for it and stops: the result has NeedsResubmit set and the stake must
// be submitted again.
func (o *Orchestrator) ApproveAndStake(ctx context.Context, event common.Address, option domain.Option, amt *big.Int) ActionResult {
	req := stake.Request{Event: event, Option: option, Amount: amt}
	if err := stake.CheckRequest(req); err != nil {
		return failure(domain.IntentStake, "", err)
	}
	op, err := o.deps.Registry.Begin(ctx, o.key(event), domain.IntentStake, amt)
	if err != nil {
		return failure(domain.IntentStake, "", err)
	}

	snap, err := o.snapshots.get(ctx, event)
	if err != nil {
		return o.abort(op, fmt.Errorf("orchestrator: read event %s: %w", event.Hex(), err))
	}
	chk, err := o.deps.Engine.Prepare(ctx, snap, req)
	switch {
	case errors.Is(err, domain.ErrInsufficientAllowance) && chk.RequestedApproval != nil:
		return o.approve(ctx, op, snap, chk.RequestedApproval)
	case err != nil:
		return o.abort(op, err)
	}

	rcpt, err := o.deps.Engine.Execute(ctx, op, snap, req)
	if err != nil {
		return failure(domain.IntentStake, op.ID(), err)
	}
	o.snapshots.invalidate(ctx, event)
	res := success(domain.IntentStake, op.ID(), rcpt.TxHash, "Stake confirmed.")
	res.Amount = amt.String()
	o.complete(event, domain.IntentStake, amt, res)
	return res
}

func (o *Orchestrator) approve(ctx context.Context, op *opstate.Machine, snap domain.EventSnapshot, size *big.Int) ActionResult {
	if err := op.Retarget(domain.IntentApprove, size); err != nil {
		return o.abort(op, err)
	}
	event := snap.Event.Address
	rcpt, err := o.deps.Allowances.Approve(ctx, op, event, snap.Event.Token, size)
	if err != nil {
		return failure(domain.IntentApprove, op.ID(), err)
	}
	res := success(domain.IntentApprove, op.ID(), rcpt.TxHash, "Approval confirmed. Submit the stake again to continue.")
	res.NeedsResubmit = true
	res.RequestedApproval = size
	res.Amount = size.String()
	o.complete(event, domain.IntentApprove, size, res)
	return res
}

// SubmitStake parses a display amount in the event token's decimals and
// runs ApproveAndStake.
func (o *Orchestrator) SubmitStake(ctx context.Context, event common.Address, option domain.Option, display string) ActionResult {
	snap, err := o.snapshots.get(ctx, event)
	if err != nil {
		return failure(domain.IntentStake, "", fmt.Errorf("orchestrator: read event %s: %w", event.Hex(), err))
	}
	pol, err := o.deps.Allowances.Policies().Lookup(snap.Event.Token)
	if err != nil {
		return failure(domain.IntentStake, "", err)
	}
	amt, err := amount.ParseUnits(display, pol.Decimals)
	if err != nil {
		return failure(domain.IntentStake, "", err)
	}
	return o.ApproveAndStake(ctx, event, option, amt)
}

// Claim runs a reward, refund or creator refund claim. Eligibility is
// checked against a forced fresh read; an ineligible claim never reaches the
// ledger.
func (o *Orchestrator) Claim(ctx context.Context, event common.Address, intent domain.Intent) ActionResult {
	if _, ok := domain.ParseClaimIntent(string(intent)); !ok {
		return failure(intent, "", fmt.Errorf("orchestrator: %q is not a claim: %w", intent, domain.ErrInvalidInput))
	}
	ledgerOp, _ := domain.LedgerOpFor(intent)

	op, err := o.deps.Registry.Begin(ctx, o.key(event), intent, nil)
	if err != nil {
		return failure(intent, "", err)
	}
	snap, err := o.snapshots.fresh(ctx, event)
	if err != nil {
		return o.abort(op, fmt.Errorf("orchestrator: read event %s: %w", event.Hex(), err))
	}
	if err := CheckClaim(snap, intent); err != nil {
		return o.abort(op, err)
	}
	expected, err := ExpectedClaim(snap, intent)
	if err != nil {
		return o.abort(op, err)
	}
	if err := op.Retarget(intent, expected); err != nil {
		return o.abort(op, err)
	}

	rcpt, err := opstate.Execute(ctx, op, o.deps.Writer, domain.WriteRequest{Target: event, Op: ledgerOp}, o.cfg.ConfirmTimeout)
	if err != nil {
		o.logger.Warn("claim failed",
			slog.String("event", event.Hex()),
			slog.String("intent", string(intent)),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return failure(intent, op.ID(), err)
	}
	o.snapshots.markClaimed(event, intent)
	o.trigger(string(intent) + " confirmed")

	res := success(intent, op.ID(), rcpt.TxHash, "Claim confirmed.")
	res.Amount = expected.String()
	o.logger.Info("claim confirmed",
		slog.String("event", event.Hex()),
		slog.String("intent", string(intent)),
		slog.String("amount", expected.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	o.complete(event, intent, expected, res)
	return res
}

// ClaimReward claims winnings on a completed event.
func (o *Orchestrator) ClaimReward(ctx context.Context, event common.Address) ActionResult {
	return o.Claim(ctx, event, domain.IntentReward)
}

// ClaimRefund claims the stake back from a cancelled, rejected or nullified
// event.
func (o *Orchestrator) ClaimRefund(ctx context.Context, event common.Address) ActionResult {
	return o.Claim(ctx, event, domain.IntentRefund)
}

// ClaimCreatorRefund claims the creator's stake back.
func (o *Orchestrator) ClaimCreatorRefund(ctx context.Context, event common.Address) ActionResult {
	return o.Claim(ctx, event, domain.IntentCreatorRefund)
}

// abort fails an operation that never reached the ledger.
func (o *Orchestrator) abort(op *opstate.Machine, err error) ActionResult {
	_ = op.Fail(err)
	return failure(op.Intent(), op.ID(), err)
}
