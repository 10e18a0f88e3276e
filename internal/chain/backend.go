// Package chain provides the ledger boundary for the mini-app games: the RPC
// backend interfaces, contract ABIs, fulfillment event parsing and error
// classification.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the read-only surface of a ledger endpoint.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxBackend adds transaction submission and receipt lookup.
type TxBackend interface {
	Backend
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config holds endpoint configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, cfg Config) (*ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc, err := rpc.DialContext(dctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return ethclient.NewClient(rc), nil
}

var (
	_ TxBackend = (*ethclient.Client)(nil)
)
