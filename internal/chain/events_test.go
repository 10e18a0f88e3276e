package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testPlayer   = common.HexToAddress("0x000000000000000000000000000000000000000a")
)

func TestParseFulfillment_WrongEvent(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0x01"), {}, {}}}
	_, err := ParseFulfillment(GameGuess, lg)
	assert.ErrorContains(t, err, "not a GuessResult event")

	_, err = ParseFulfillment(Game("dice"), lg)
	assert.Error(t, err)
}

func TestFulfillmentAfter(t *testing.T) {
	a := &Fulfillment{BlockNumber: 10, LogIndex: 5}
	b := &Fulfillment{BlockNumber: 11, LogIndex: 0}
	c := &Fulfillment{BlockNumber: 11, LogIndex: 1}

	assert.True(t, b.After(a))
	assert.True(t, c.After(b))
	assert.False(t, a.After(c))
	assert.True(t, a.After(nil))
}

func TestPackCalls(t *testing.T) {
	data, err := PackPlay(3, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, GuessABI.Methods["play"].ID, data[:4])

	data, err = PackApprove(testContract, big.NewInt(1))
	require.NoError(t, err)
	assert.Len(t, data, 4+32+32)
}

func TestParseRequest(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{
		RequestTopic(GameSlot),
		PlayerTopic(testPlayer),
		RequestIDTopic(big.NewInt(99)),
	}}
	player, id, err := ParseRequest(GameSlot, lg)
	require.NoError(t, err)
	assert.Equal(t, testPlayer, player)
	assert.Equal(t, int64(99), id.Int64())

	_, _, err = ParseRequest(GameGuess, lg)
	assert.ErrorContains(t, err, "not a GuessRequested event")
}
