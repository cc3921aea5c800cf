// Package evm implements domain.Ledger against an EVM JSON-RPC node.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
)

// Backend is the subset of ethclient.Client the ledger uses.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.TransactionSender
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxSigner signs transactions for one account.
type TxSigner interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config holds ledger tuning.
type Config struct {
	ChainID       int64 // 0: ask the node
	GasMultiplier float64
	PollInterval  time.Duration
	Confirmations uint64
}

// Ledger is a domain.Ledger over JSON-RPC.
type Ledger struct {
	backend Backend
	signer  TxSigner
	table   lifecycle.StatusTable
	cfg     Config
	chainID *big.Int
	logger  *slog.Logger
}

// Dial connects to rpcURL and returns a Ledger plus a close function.
func Dial(ctx context.Context, rpcURL string, cfg Config, signer TxSigner, table lifecycle.StatusTable, logger *slog.Logger) (*Ledger, func(), error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("evm: rpc url required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", trimmed, err)
	}
	l, err := New(ctx, client, cfg, signer, table, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return l, client.Close, nil
}

// New creates a Ledger over an existing backend. When cfg.ChainID is zero the
// chain id is fetched from the node.
func New(ctx context.Context, backend Backend, cfg Config, signer TxSigner, table lifecycle.StatusTable, logger *slog.Logger) (*Ledger, error) {
	if cfg.GasMultiplier < 1 {
		cfg.GasMultiplier = 1.2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("evm: chain id: %w", err)
		}
		chainID = id
	}
	return &Ledger{
		backend: backend,
		signer:  signer,
		table:   table,
		cfg:     cfg,
		chainID: chainID,
		logger:  logger.With(slog.String("component", "evm")),
	}, nil
}

// ChainID returns the chain the ledger signs for.
func (l *Ledger) ChainID() *big.Int {
	return new(big.Int).Set(l.chainID)
}

// Account returns the signer address, or zero for a read-only ledger.
func (l *Ledger) Account() common.Address {
	if l.signer == nil {
		return common.Address{}
	}
	return l.signer.Address()
}

var _ domain.Ledger = (*Ledger)(nil)
