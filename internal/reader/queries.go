package reader

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/miniapp-games/internal/chain"
)

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) Result[*big.Int] {
	return Read(ctx, c, BalanceOfQuery(token, account))
}

// Allowance reads an ERC-20 allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) Result[*big.Int] {
	return Read(ctx, c, AllowanceQuery(token, owner, spender))
}

// Paused reads a game contract's paused flag.
func (c *Client) Paused(ctx context.Context, contract common.Address) Result[bool] {
	return Read(ctx, c, PausedQuery(contract))
}

// Pot reads a game contract's prize pot.
func (c *Client) Pot(ctx context.Context, contract common.Address) Result[*big.Int] {
	return Read(ctx, c, PotQuery(contract))
}

// BlockNumber reads the chain head.
func (c *Client) BlockNumber(ctx context.Context) Result[uint64] {
	return Read(ctx, c, BlockNumberQuery())
}

// FilterLogs reads event logs.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) Result[[]types.Log] {
	return Read(ctx, c, LogsQuery(q))
}

// =============================================================================
// Query constructors
// =============================================================================

func BalanceOfQuery(token, account common.Address) Query[*big.Int] {
	return Query[*big.Int]{
		Key:     "balanceOf:" + token.Hex() + ":" + account.Hex(),
		Default: new(big.Int),
		Fetch: func(ctx context.Context, b chain.Backend) (*big.Int, error) {
			data, err := chain.PackBalanceOf(account)
			if err != nil {
				return nil, err
			}
			return callUint256(ctx, b, token, data, "balanceOf")
		},
	}
}

func AllowanceQuery(token, owner, spender common.Address) Query[*big.Int] {
	return Query[*big.Int]{
		Key:     "allowance:" + token.Hex() + ":" + owner.Hex() + ":" + spender.Hex(),
		Default: new(big.Int),
		Fetch: func(ctx context.Context, b chain.Backend) (*big.Int, error) {
			data, err := chain.PackAllowance(owner, spender)
			if err != nil {
				return nil, err
			}
			return callUint256(ctx, b, token, data, "allowance")
		},
	}
}

func PausedQuery(contract common.Address) Query[bool] {
	return Query[bool]{
		Key: "paused:" + contract.Hex(),
		Fetch: func(ctx context.Context, b chain.Backend) (bool, error) {
			data, err := chain.PackPaused()
			if err != nil {
				return false, err
			}
			out, err := b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
			if err != nil {
				return false, err
			}
			return chain.UnpackBool(chain.GuessABI, "paused", out)
		},
	}
}

func PotQuery(contract common.Address) Query[*big.Int] {
	return Query[*big.Int]{
		Key:     "pot:" + contract.Hex(),
		Default: new(big.Int),
		Fetch: func(ctx context.Context, b chain.Backend) (*big.Int, error) {
			data, err := chain.PackPot()
			if err != nil {
				return nil, err
			}
			out, err := b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
			if err != nil {
				return nil, err
			}
			return chain.UnpackUint256(chain.GuessABI, "pot", out)
		},
	}
}

func BlockNumberQuery() Query[uint64] {
	return Query[uint64]{
		Key: "blockNumber",
		Fetch: func(ctx context.Context, b chain.Backend) (uint64, error) {
			return b.BlockNumber(ctx)
		},
	}
}

// LogsQuery filters logs. Ranged queries are cached by their exact filter;
// open-ended ones are not.
func LogsQuery(q ethereum.FilterQuery) Query[[]types.Log] {
	key := ""
	if q.FromBlock != nil && q.ToBlock != nil {
		key = logsKey(q)
	}
	return Query[[]types.Log]{
		Key: key,
		Fetch: func(ctx context.Context, b chain.Backend) ([]types.Log, error) {
			return b.FilterLogs(ctx, q)
		},
	}
}

func callUint256(ctx context.Context, b chain.Backend, to common.Address, data []byte, method string) (*big.Int, error) {
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return chain.UnpackUint256(chain.ERC20ABI, method, out)
}

func logsKey(q ethereum.FilterQuery) string {
	var sb strings.Builder
	sb.WriteString("logs")
	for _, a := range q.Addresses {
		sb.WriteString(":" + a.Hex())
	}
	fmt.Fprintf(&sb, ":%d-%d", q.FromBlock, q.ToBlock)
	for _, set := range q.Topics {
		sb.WriteString(":[")
		for i, h := range set {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(h.Hex())
		}
		sb.WriteString("]")
	}
	return sb.String()
}
