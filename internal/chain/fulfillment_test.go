package chain_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/pkg/testutil"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	player   = common.HexToAddress("0x000000000000000000000000000000000000000a")
)

func TestParseFulfillment_Guess(t *testing.T) {
	in := &chain.Fulfillment{
		Game:        chain.GameGuess,
		Player:      player,
		RequestID:   big.NewInt(7),
		Guess:       4,
		Result:      4,
		Won:         true,
		Payout:      decimal.NewFromInt(500),
		BlockNumber: 1002,
		LogIndex:    3,
	}
	lg, err := testutil.EncodeFulfillment(contract, in)
	require.NoError(t, err)
	assert.Equal(t, chain.ResultTopic(chain.GameGuess), lg.Topics[0])

	got, err := chain.ParseFulfillment(chain.GameGuess, lg)
	require.NoError(t, err)
	assert.Equal(t, player, got.Player)
	assert.Equal(t, int64(7), got.RequestID.Int64())
	assert.Equal(t, uint8(4), got.Result)
	assert.True(t, got.Won)
	assert.True(t, got.Payout.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, uint64(1002), got.BlockNumber)
	assert.Equal(t, []uint8{4}, got.Symbols())
}

func TestParseFulfillment_Slot(t *testing.T) {
	in := &chain.Fulfillment{
		Game:      chain.GameSlot,
		Player:    player,
		RequestID: big.NewInt(1),
		Reels:     [3]uint8{2, 2, 5},
		Payout:    decimal.Zero,
	}
	lg, err := testutil.EncodeFulfillment(contract, in)
	require.NoError(t, err)

	got, err := chain.ParseFulfillment(chain.GameSlot, lg)
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{2, 2, 5}, got.Reels)
	assert.False(t, got.Won)
	assert.Equal(t, []uint8{2, 2, 5}, got.Symbols())
}
