package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WriteRequest is a single state-changing call against the ledger.
type WriteRequest struct {
	Target  common.Address // event contract, or token contract for approvals
	Op      LedgerOp
	Option  Option   // stake only
	Amount  *big.Int // stake and approve
	Spender common.Address
}

// LedgerReader performs read-only queries. Every call may fail transiently.
type LedgerReader interface {
	ReadEvent(ctx context.Context, event, user common.Address) (EventSnapshot, error)
	Balance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// LedgerWriter broadcasts writes and waits for their outcome.
type LedgerWriter interface {
	// Write signs and broadcasts req. A returned error means nothing was
	// broadcast.
	Write(ctx context.Context, req WriteRequest) (TxHandle, error)
	// AwaitConfirmation blocks until the write is mined or fails. Reverts
	// come back as *RevertError.
	AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error)
}

// Ledger is the complete external ledger surface.
type Ledger interface {
	LedgerReader
	LedgerWriter
}
