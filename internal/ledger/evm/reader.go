package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger"
)

type eventDetails struct {
	Question             string
	OptionA              string
	OptionB              string
	Status               uint8
	EndTime              *big.Int
	WinningOption        uint8
	Creator              common.Address
	Token                common.Address
	CreatorStake         *big.Int
	TotalStaked          *big.Int
	CreatorFeeBps        uint16
	CreatorRewardClaimed bool
}

type userStake struct {
	SelectedOption uint8
	Amount         *big.Int
	Claimed        bool
}

// ReadEvent reads details, option totals and the user's stake. The three
// calls are pinned to one block so the snapshot is consistent.
func (l *Ledger) ReadEvent(ctx context.Context, event, user common.Address) (domain.EventSnapshot, error) {
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.EventSnapshot{}, fmt.Errorf("evm: head: %w", ledger.ClassifyError(err))
	}
	block := head.Number

	var det eventDetails
	if err := l.call(ctx, eventABI, event, block, "getEventDetails", &det); err != nil {
		return domain.EventSnapshot{}, err
	}
	var totals struct {
		OptionA *big.Int
		OptionB *big.Int
	}
	if err := l.call(ctx, eventABI, event, block, "getOptionTotals", &totals); err != nil {
		return domain.EventSnapshot{}, err
	}

	ev := domain.Event{
		Address:               event,
		Question:              det.Question,
		Outcomes:              [2]string{det.OptionA, det.OptionB},
		StatusCode:            det.Status,
		Status:                l.table.Status(det.Status),
		EndTime:               time.Unix(det.EndTime.Int64(), 0).UTC(),
		WinningOption:         domain.Option(det.WinningOption),
		Creator:               det.Creator,
		Token:                 det.Token,
		CreatorStakeAmount:    det.CreatorStake,
		TotalStakedAmount:     det.TotalStaked,
		CreatorFeeBasisPoints: det.CreatorFeeBps,
		CreatorRewardClaimed:  det.CreatorRewardClaimed,
	}
	if ev.Status == domain.EventStatusNullified {
		var reason string
		if err := l.call(ctx, eventABI, event, block, "nullificationReason", &reason); err != nil {
			return domain.EventSnapshot{}, err
		}
		ev.NullificationReason = reason
	}

	snap := domain.EventSnapshot{
		Event:     ev,
		Totals:    domain.OptionTotals{totals.OptionA, totals.OptionB},
		Stake:     domain.UserStake{Amount: new(big.Int)},
		User:      user,
		FetchedAt: time.Now(),
	}
	if user != (common.Address{}) {
		var us userStake
		if err := l.call(ctx, eventABI, event, block, "getUserStake", &us, user); err != nil {
			return domain.EventSnapshot{}, err
		}
		snap.Stake = domain.UserStake{
			SelectedOption: domain.Option(us.SelectedOption),
			Amount:         us.Amount,
			Claimed:        us.Claimed,
		}
	}

	if sum := snap.Totals.Sum(); ev.TotalStakedAmount != nil && sum.Cmp(ev.TotalStakedAmount) != 0 {
		l.logger.Warn("option totals do not sum to total staked",
			slog.String("event", event.Hex()),
			slog.String("sum", sum.String()),
			slog.String("total", ev.TotalStakedAmount.String()),
		)
	}
	return snap, nil
}

// Balance returns owner's token balance.
func (l *Ledger) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out *big.Int
	if err := l.call(ctx, erc20ABI, token, nil, "balanceOf", &out, owner); err != nil {
		return nil, err
	}
	return out, nil
}

// Allowance returns what owner lets spender move.
func (l *Ledger) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	if err := l.call(ctx, erc20ABI, token, nil, "allowance", &out, owner, spender); err != nil {
		return nil, err
	}
	return out, nil
}

// TokenMetadata reads decimals and symbol, used to check configuration.
func (l *Ledger) TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error) {
	var symbol string
	if err := l.call(ctx, erc20ABI, token, nil, "symbol", &symbol); err != nil {
		return "", 0, err
	}
	var decimals uint8
	if err := l.call(ctx, erc20ABI, token, nil, "decimals", &decimals); err != nil {
		return "", 0, err
	}
	return symbol, decimals, nil
}

func (l *Ledger) call(ctx context.Context, contract abi.ABI, to common.Address, block *big.Int, method string, out any, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("evm: pack %s: %w: %w", method, domain.ErrInvalidInput, err)
	}
	raw, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return fmt.Errorf("evm: call %s on %s: %w", method, to.Hex(), ledger.ClassifyError(withRevertReason(err)))
	}
	if len(raw) == 0 {
		return fmt.Errorf("evm: call %s on %s: empty result: %w", method, to.Hex(), domain.ErrNotFound)
	}
	if err := contract.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return nil
}
