package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Game identifies one of the mini-app games.
type Game string

const (
	GameGuess Game = "guess"
	GameSlot  Game = "slot"
)

// Games lists every supported game.
var Games = []Game{GameGuess, GameSlot}

// Valid reports whether g is a known game.
func (g Game) Valid() bool {
	return g == GameGuess || g == GameSlot
}

// =============================================================================
// Contract ABIs
// =============================================================================

const guessABIJSON = `[
	{"type":"function","name":"play","stateMutability":"nonpayable","inputs":[{"name":"guess","type":"uint8"},{"name":"stake","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"pot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"GuessRequested","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true},{"name":"requestId","type":"uint256","indexed":true},{"name":"guess","type":"uint8","indexed":false},{"name":"stake","type":"uint256","indexed":false}]},
	{"type":"event","name":"GuessResult","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true},{"name":"requestId","type":"uint256","indexed":true},{"name":"guess","type":"uint8","indexed":false},{"name":"result","type":"uint8","indexed":false},{"name":"won","type":"bool","indexed":false},{"name":"payout","type":"uint256","indexed":false}]}
]`

const slotABIJSON = `[
	{"type":"function","name":"spin","stateMutability":"nonpayable","inputs":[{"name":"stake","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"pot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"SpinRequested","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true},{"name":"requestId","type":"uint256","indexed":true},{"name":"stake","type":"uint256","indexed":false}]},
	{"type":"event","name":"SpinResult","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true},{"name":"requestId","type":"uint256","indexed":true},{"name":"reels","type":"uint8[3]","indexed":false},{"name":"payout","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	GuessABI = mustParseABI(guessABIJSON)
	SlotABI  = mustParseABI(slotABIJSON)
	ERC20ABI = mustParseABI(erc20ABIJSON)
)

// Event names emitted by the game contracts.
const (
	EventGuessRequested = "GuessRequested"
	EventGuessResult    = "GuessResult"
	EventSpinRequested  = "SpinRequested"
	EventSpinResult     = "SpinResult"
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// GameABI returns the contract ABI for a game.
func GameABI(g Game) (abi.ABI, error) {
	switch g {
	case GameGuess:
		return GuessABI, nil
	case GameSlot:
		return SlotABI, nil
	default:
		return abi.ABI{}, fmt.Errorf("unknown game %q", g)
	}
}

// ResultEvent returns the name of the fulfillment event for a game.
func ResultEvent(g Game) string {
	if g == GameSlot {
		return EventSpinResult
	}
	return EventGuessResult
}

// ResultTopic returns topic0 of the game's fulfillment event.
func ResultTopic(g Game) common.Hash {
	a, err := GameABI(g)
	if err != nil {
		return common.Hash{}
	}
	return a.Events[ResultEvent(g)].ID
}

// RequestEvent returns the name of the randomness request event for a game.
func RequestEvent(g Game) string {
	if g == GameSlot {
		return EventSpinRequested
	}
	return EventGuessRequested
}

// RequestTopic returns topic0 of the game's randomness request event.
func RequestTopic(g Game) common.Hash {
	a, err := GameABI(g)
	if err != nil {
		return common.Hash{}
	}
	return a.Events[RequestEvent(g)].ID
}

// PlayerTopic encodes an address as an indexed event topic.
func PlayerTopic(player common.Address) common.Hash {
	return common.BytesToHash(player.Bytes())
}

// =============================================================================
// Call data builders
// =============================================================================

// PackPlay encodes a number-guess play call.
func PackPlay(guess uint8, stake *big.Int) ([]byte, error) {
	return GuessABI.Pack("play", guess, stake)
}

// PackSpin encodes a slot spin call.
func PackSpin(stake *big.Int) ([]byte, error) {
	return SlotABI.Pack("spin", stake)
}

// PackApprove encodes an ERC-20 approve call.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// PackBalanceOf encodes an ERC-20 balanceOf call.
func PackBalanceOf(account common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", account)
}

// PackAllowance encodes an ERC-20 allowance call.
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return ERC20ABI.Pack("allowance", owner, spender)
}

// PackPaused encodes a paused() call. Both games share the selector.
func PackPaused() ([]byte, error) {
	return GuessABI.Pack("paused")
}

// PackPot encodes a pot() call. Both games share the selector.
func PackPot() ([]byte, error) {
	return GuessABI.Pack("pot")
}

// UnpackUint256 decodes a single uint256 return value of method from a.
func UnpackUint256(a abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := a.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// UnpackBool decodes a single bool return value of method from a.
func UnpackBool(a abi.ABI, method string, data []byte) (bool, error) {
	out, err := a.Unpack(method, data)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}
