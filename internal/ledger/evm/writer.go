package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger"
)

// calldata encodes req for its target contract.
func calldata(req domain.WriteRequest) ([]byte, error) {
	switch req.Op {
	case domain.OpApprove:
		if req.Amount == nil || req.Amount.Sign() < 0 {
			return nil, fmt.Errorf("evm: approve amount: %w", domain.ErrInvalidInput)
		}
		return erc20ABI.Pack("approve", req.Spender, req.Amount)
	case domain.OpStake:
		if !req.Option.Valid() || req.Amount == nil || req.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("evm: stake args: %w", domain.ErrInvalidInput)
		}
		return eventABI.Pack("stake", uint8(req.Option), req.Amount)
	case domain.OpClaimReward, domain.OpClaimNullificationRefund, domain.OpClaimCreatorStakeRefund:
		return eventABI.Pack(string(req.Op))
	default:
		return nil, fmt.Errorf("evm: unknown op %q: %w", req.Op, domain.ErrInvalidInput)
	}
}

// Write builds, signs and broadcasts an EIP-1559 transaction. Gas estimation
// runs the call first, so most reverts surface here, before broadcast.
func (l *Ledger) Write(ctx context.Context, req domain.WriteRequest) (domain.TxHandle, error) {
	if l.signer == nil {
		return domain.TxHandle{}, fmt.Errorf("evm: ledger is read-only: %w", domain.ErrSigningFailed)
	}
	data, err := calldata(req)
	if err != nil {
		return domain.TxHandle{}, err
	}
	from := l.signer.Address()
	to := req.Target

	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: nonce: %w", ledger.ClassifyError(err))
	}
	tip, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: gas tip: %w", ledger.ClassifyError(err))
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: head: %w", ledger.ClassifyError(err))
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: estimate %s: %w", req.Op, ledger.ClassifyError(withRevertReason(err)))
	}
	gas = uint64(math.Ceil(float64(gas) * l.cfg.GasMultiplier))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := l.signer.SignTx(ctx, tx, l.chainID)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: sign %s: %w", req.Op, ledger.ClassifyError(err))
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: send %s: %w", req.Op, ledger.ClassifyError(err))
	}

	l.logger.Info("transaction broadcast",
		slog.String("op", string(req.Op)),
		slog.String("to", to.Hex()),
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return domain.TxHandle{Hash: signed.Hash(), Op: req.Op, Nonce: nonce}, nil
}
