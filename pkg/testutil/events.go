package testutil

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/miniapp-games/internal/chain"
)

// EncodeFulfillment builds the log a game contract would emit for f, the
// inverse of chain.ParseFulfillment.
func EncodeFulfillment(contractAddr common.Address, f *chain.Fulfillment) (types.Log, error) {
	contract, err := chain.GameABI(f.Game)
	if err != nil {
		return types.Log{}, err
	}
	name := chain.ResultEvent(f.Game)
	event := contract.Events[name]

	payout := f.Payout.BigInt()
	var data []byte
	switch f.Game {
	case chain.GameGuess:
		data, err = event.Inputs.NonIndexed().Pack(f.Guess, f.Result, f.Won, payout)
	default:
		data, err = event.Inputs.NonIndexed().Pack(f.Reels, payout)
	}
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", name, err)
	}

	reqID := f.RequestID
	if reqID == nil {
		reqID = new(big.Int)
	}

	return types.Log{
		Address: contractAddr,
		Topics: []common.Hash{
			event.ID,
			chain.PlayerTopic(f.Player),
			chain.RequestIDTopic(reqID),
		},
		Data:        data,
		BlockNumber: f.BlockNumber,
		TxHash:      f.TxHash,
		Index:       f.LogIndex,
	}, nil
}
