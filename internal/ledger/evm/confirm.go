package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger"
)

// AwaitConfirmation polls for the receipt until it is mined with the
// configured number of confirmations. A failed receipt is replayed at its
// block to recover the revert reason.
func (l *Ledger) AwaitConfirmation(ctx context.Context, h domain.TxHandle) (domain.Receipt, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, done, err := l.checkReceipt(ctx, h)
		if done {
			return rcpt, err
		}
		if err != nil {
			l.logger.Debug("receipt poll failed",
				slog.String("hash", h.Hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("evm: await %s: %w", h.Hash.Hex(), ledger.ClassifyError(ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (l *Ledger) checkReceipt(ctx context.Context, h domain.TxHandle) (domain.Receipt, bool, error) {
	receipt, err := l.backend.TransactionReceipt(ctx, h.Hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.Receipt{}, false, nil
		}
		return domain.Receipt{}, false, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return domain.Receipt{}, false, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.Receipt{}, true, l.revertFor(ctx, h, receipt)
	}
	if l.cfg.Confirmations > 1 {
		head, err := l.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return domain.Receipt{}, false, err
		}
		confirmed := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(l.cfg.Confirmations)) < 0 {
			return domain.Receipt{}, false, nil
		}
	}
	l.logger.Info("transaction confirmed",
		slog.String("op", string(h.Op)),
		slog.String("hash", h.Hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return domain.Receipt{
		TxHash:      h.Hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, true, nil
}

func (l *Ledger) revertFor(ctx context.Context, h domain.TxHandle, receipt *types.Receipt) error {
	tx, _, err := l.backend.TransactionByHash(ctx, h.Hash)
	if err != nil || tx == nil {
		return &domain.RevertError{Reason: domain.ReasonUnclassified, Message: "transaction " + h.Hash.Hex() + " reverted"}
	}
	msg := ethereum.CallMsg{
		From:      l.Account(),
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	_, callErr := l.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return &domain.RevertError{Reason: domain.ReasonUnclassified, Message: "transaction " + h.Hash.Hex() + " reverted"}
	}
	classified := ledger.ClassifyError(withRevertReason(callErr))
	switch domain.KindOf(classified) {
	case domain.KindUnknown, domain.KindNetworkTimeout, domain.KindDegraded:
	default:
		return classified
	}
	return &domain.RevertError{Reason: ledger.ClassifyRevert(callErr.Error()), Message: callErr.Error()}
}

// withRevertReason appends the decoded Error(string) payload, when the node
// returned one, so text classification can see it.
func withRevertReason(err error) error {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return err
	}
	data, decErr := hexutil.Decode(hexData)
	if decErr != nil {
		return err
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return err
	}
	return fmt.Errorf("execution reverted: %s: %w", reason, err)
}
