package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Fulfillment is a decoded VRF result event for one play.
type Fulfillment struct {
	Game      Game
	Player    common.Address
	RequestID *big.Int

	// Guess game fields.
	Guess  uint8
	Result uint8

	// Slot game fields.
	Reels [3]uint8

	Won    bool
	Payout decimal.Decimal

	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Symbols returns the values revealed to the player, in reveal order.
func (f *Fulfillment) Symbols() []uint8 {
	if f.Game == GameSlot {
		return []uint8{f.Reels[0], f.Reels[1], f.Reels[2]}
	}
	return []uint8{f.Result}
}

// After reports whether f is ordered strictly after other on the ledger.
func (f *Fulfillment) After(other *Fulfillment) bool {
	if other == nil {
		return true
	}
	if f.BlockNumber != other.BlockNumber {
		return f.BlockNumber > other.BlockNumber
	}
	return f.LogIndex > other.LogIndex
}

// ParseFulfillment decodes a GuessResult or SpinResult log for game g.
func ParseFulfillment(g Game, lg types.Log) (*Fulfillment, error) {
	contract, err := GameABI(g)
	if err != nil {
		return nil, err
	}
	name := ResultEvent(g)
	event := contract.Events[name]

	if len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
		return nil, fmt.Errorf("not a %s event", name)
	}

	values, err := contract.Unpack(name, lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", name, err)
	}

	f := &Fulfillment{
		Game:        g,
		Player:      common.BytesToAddress(lg.Topics[1].Bytes()),
		RequestID:   new(big.Int).SetBytes(lg.Topics[2].Bytes()),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}

	switch g {
	case GameGuess:
		if len(values) != 4 {
			return nil, fmt.Errorf("%s: expected 4 values, got %d", name, len(values))
		}
		var ok1, ok2, ok3, ok4 bool
		f.Guess, ok1 = values[0].(uint8)
		f.Result, ok2 = values[1].(uint8)
		f.Won, ok3 = values[2].(bool)
		payout, ok4 := values[3].(*big.Int)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, fmt.Errorf("%s: unexpected field types", name)
		}
		f.Payout = decimal.NewFromBigInt(payout, 0)
	case GameSlot:
		if len(values) != 2 {
			return nil, fmt.Errorf("%s: expected 2 values, got %d", name, len(values))
		}
		reels, ok1 := values[0].([3]uint8)
		payout, ok2 := values[1].(*big.Int)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: unexpected field types", name)
		}
		f.Reels = reels
		f.Payout = decimal.NewFromBigInt(payout, 0)
		f.Won = payout.Sign() > 0
	}

	return f, nil
}

// ParseRequest decodes the GuessRequested or SpinRequested log emitted when
// a play is accepted, returning the player and the VRF request ID.
func ParseRequest(g Game, lg types.Log) (common.Address, *big.Int, error) {
	name := RequestEvent(g)
	if len(lg.Topics) < 3 || lg.Topics[0] != RequestTopic(g) || !g.Valid() {
		return common.Address{}, nil, fmt.Errorf("not a %s event", name)
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), new(big.Int).SetBytes(lg.Topics[2].Bytes()), nil
}

// FindRequestID returns the VRF request ID that contract emitted for player
// among logs, or nil when there is none.
func FindRequestID(g Game, logs []*types.Log, contract, player common.Address) *big.Int {
	for _, lg := range logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		who, id, err := ParseRequest(g, *lg)
		if err == nil && who == player {
			return id
		}
	}
	return nil
}

// RequestIDTopic encodes a VRF request ID as an indexed event topic.
func RequestIDTopic(id *big.Int) common.Hash {
	return common.BigToHash(id)
}
