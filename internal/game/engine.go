// Package game composes the read, submit, reconcile and stats components
// into the play flow of the mini-app games.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/reconciler"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/internal/stats"
	"github.com/R3E-Network/miniapp-games/internal/submit"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	ErrUnknownGame           = errors.New("unknown game")
	ErrInvalidInput          = errors.New("invalid input")
	ErrPaused                = errors.New("game is paused")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrReadOnly              = errors.New("no wallet configured")
	ErrAccountMismatch       = errors.New("wallet does not match session account")

	ErrNotConnected   = session.ErrNotConnected
	ErrPendingRequest = session.ErrPendingRequest
	ErrWrongNetwork   = session.ErrWrongNetwork
	// ErrUnknownOutcome matches every error after which a play may still
	// resolve on the ledger.
	ErrUnknownOutcome = session.ErrUnknownOutcome
)

// Contract is one deployed game and its play limits.
type Contract struct {
	Game    chain.Game
	Address common.Address
	// Inclusive guess range; unused for the slot.
	MinNumber uint8
	MaxNumber uint8
	// Stake bounds in token base units; nil means unbounded.
	MinStake *big.Int
	MaxStake *big.Int
	Stats    *stats.Aggregator
}

// Intent is a player's request to play.
type Intent struct {
	Game   chain.Game
	Number uint8
	Stake  *big.Int
}

// Result is a completed play.
type Result struct {
	Outcome *session.Outcome
	Receipt *submit.Receipt
	Stats   stats.Stats
	// TxHash is the sent transaction, zero when nothing was signed. It is
	// set on failed plays too.
	TxHash common.Hash
}

// Reading is a displayed ledger value and where it came from.
type Reading[T any] struct {
	Value  T
	Source reader.Source
}

// Known reports whether the value reflects ledger state.
func (r Reading[T]) Known() bool {
	return r.Source != reader.SourceDefault
}

// Overview is what a game screen shows before a play.
type Overview struct {
	Game      chain.Game
	Balance   Reading[*big.Int]
	Allowance Reading[*big.Int]
	Pot       Reading[*big.Int]
	Paused    Reading[bool]
}

// Engine runs plays for connected sessions.
type Engine struct {
	reader     *reader.Client
	submitter  *submit.Submitter
	reconciler *reconciler.Reconciler
	sessions   *session.Manager
	token      common.Address
	games      map[chain.Game]*Contract
	log        *logger.Logger
}

// Deps are the engine's collaborators. Submitter may be nil for a read-only
// engine.
type Deps struct {
	Reader     *reader.Client
	Submitter  *submit.Submitter
	Reconciler *reconciler.Reconciler
	Sessions   *session.Manager
	Token      common.Address
	Games      []*Contract
}

func NewEngine(d Deps, log *logger.Logger) *Engine {
	games := make(map[chain.Game]*Contract, len(d.Games))
	for _, c := range d.Games {
		games[c.Game] = c
	}
	return &Engine{
		reader:     d.Reader,
		submitter:  d.Submitter,
		reconciler: d.Reconciler,
		sessions:   d.Sessions,
		token:      d.Token,
		games:      games,
		log:        logger.OrDefault(log, "game"),
	}
}

// Games lists the configured games in name order.
func (e *Engine) Games() []chain.Game {
	out := make([]chain.Game, 0, len(e.games))
	for g := range e.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contract returns the configuration of game g.
func (e *Engine) Contract(g chain.Game) (*Contract, error) {
	c, ok := e.games[g]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, g)
	}
	return c, nil
}

// Connect starts a session for account, superseding any previous one, and
// reports results that landed for the account's abandoned requests.
func (e *Engine) Connect(ctx context.Context, account common.Address, chainID uint64) (*session.Session, []*session.Outcome, error) {
	sess, err := e.sessions.Connect(ctx, account, chainID)
	if err != nil {
		return nil, nil, err
	}
	late := e.reconciler.Recover(ctx, sess)
	if len(late) > 0 {
		e.log.WithFields(map[string]any{"account": account.Hex(), "late": len(late)}).Info("recovered late results")
	}
	return sess, late, nil
}

// Disconnect ends the current session.
func (e *Engine) Disconnect() {
	e.sessions.Disconnect()
}

// Play validates the intent, submits it, waits for the fulfillment and
// refreshes the game's stats. On ErrUnknownOutcome the returned Result holds
// the receipt when one was seen.
func (e *Engine) Play(ctx context.Context, sess *session.Session, in Intent) (*Result, error) {
	if sess == nil || !sess.Connected() {
		return nil, ErrNotConnected
	}
	c, err := e.Contract(in.Game)
	if err != nil {
		return nil, err
	}
	if sess.Pending() != nil {
		return nil, ErrPendingRequest
	}
	if e.submitter == nil {
		return nil, ErrReadOnly
	}
	if e.submitter.Wallet().Address() != sess.Account {
		return nil, ErrAccountMismatch
	}
	data, err := c.pack(in)
	if err != nil {
		return nil, err
	}
	if err := e.preflight(ctx, sess, c, in.Stake); err != nil {
		return nil, err
	}

	req, err := sess.Begin(in.Game, c.Address)
	if err != nil {
		return nil, err
	}
	rcpt, err := e.submitter.Submit(ctx, sess, req, submit.Action{Game: in.Game, Contract: c.Address, Data: data})
	if err != nil {
		return &Result{Receipt: rcpt, TxHash: req.TxHash()}, err
	}

	out, err := e.reconciler.Await(ctx, sess, req)
	if err != nil {
		return &Result{Receipt: rcpt, TxHash: req.TxHash()}, err
	}

	res := &Result{Outcome: out, Receipt: rcpt, TxHash: req.TxHash()}
	if c.Stats != nil {
		res.Stats = c.Stats.RefetchAfterAction(ctx, sess.Account)
	}
	return res, nil
}

// Approve lets game g's contract spend amount of the stake token.
func (e *Engine) Approve(ctx context.Context, sess *session.Session, g chain.Game, amount *big.Int) (*submit.Receipt, error) {
	if sess == nil || !sess.Connected() {
		return nil, ErrNotConnected
	}
	c, err := e.Contract(g)
	if err != nil {
		return nil, err
	}
	if e.submitter == nil {
		return nil, ErrReadOnly
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: approval amount", ErrInvalidInput)
	}
	data, err := chain.PackApprove(c.Address, amount)
	if err != nil {
		return nil, err
	}
	rcpt, err := e.submitter.SendAndWait(ctx, e.token, data)
	if err != nil {
		return rcpt, fmt.Errorf("approve %s: %w", g, err)
	}
	// The cached allowance is stale now.
	e.reader.Allowance(ctx, e.token, sess.Account, c.Address)
	return rcpt, nil
}

// Overview reads the values shown before a play. Each value carries its
// read source so unknowns can be marked.
func (e *Engine) Overview(ctx context.Context, sess *session.Session, g chain.Game) (*Overview, error) {
	if sess == nil || !sess.Connected() {
		return nil, ErrNotConnected
	}
	c, err := e.Contract(g)
	if err != nil {
		return nil, err
	}
	bal := e.reader.BalanceOf(ctx, e.token, sess.Account)
	allow := e.reader.Allowance(ctx, e.token, sess.Account, c.Address)
	pot := e.reader.Pot(ctx, c.Address)
	paused := e.reader.Paused(ctx, c.Address)
	return &Overview{
		Game:      g,
		Balance:   Reading[*big.Int]{Value: bal.Value, Source: bal.Source},
		Allowance: Reading[*big.Int]{Value: allow.Value, Source: allow.Source},
		Pot:       Reading[*big.Int]{Value: pot.Value, Source: pot.Source},
		Paused:    Reading[bool]{Value: paused.Value, Source: paused.Source},
	}, nil
}

// Stats returns the current best-effort stats of account in game g.
func (e *Engine) Stats(ctx context.Context, g chain.Game, account common.Address) (stats.Stats, error) {
	c, err := e.Contract(g)
	if err != nil {
		return stats.Stats{}, err
	}
	if c.Stats == nil {
		return stats.Stats{}, fmt.Errorf("%w: %s has no stats source", ErrUnknownGame, g)
	}
	return c.Stats.GetStats(ctx, account), nil
}

// preflight rejects plays the contract would revert. Only values known from
// the ledger block a play; a read that fell back to its default does not.
func (e *Engine) preflight(ctx context.Context, sess *session.Session, c *Contract, stake *big.Int) error {
	if paused := e.reader.Paused(ctx, c.Address); paused.Known() && paused.Value {
		return fmt.Errorf("%w: %s", ErrPaused, c.Game)
	}
	if bal := e.reader.BalanceOf(ctx, e.token, sess.Account); bal.Known() && bal.Value.Cmp(stake) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Value, stake)
	}
	if allow := e.reader.Allowance(ctx, e.token, sess.Account, c.Address); allow.Known() && allow.Value.Cmp(stake) < 0 {
		return fmt.Errorf("%w: approved %s, need %s", ErrInsufficientAllowance, allow.Value, stake)
	}
	return nil
}

// pack validates in against the contract limits and encodes the call.
func (c *Contract) pack(in Intent) ([]byte, error) {
	if in.Stake == nil || in.Stake.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stake must be positive", ErrInvalidInput)
	}
	if c.MinStake != nil && in.Stake.Cmp(c.MinStake) < 0 {
		return nil, fmt.Errorf("%w: stake below minimum %s", ErrInvalidInput, c.MinStake)
	}
	if c.MaxStake != nil && in.Stake.Cmp(c.MaxStake) > 0 {
		return nil, fmt.Errorf("%w: stake above maximum %s", ErrInvalidInput, c.MaxStake)
	}

	switch c.Game {
	case chain.GameGuess:
		if in.Number < c.MinNumber || in.Number > c.MaxNumber {
			return nil, fmt.Errorf("%w: number %d outside [%d, %d]", ErrInvalidInput, in.Number, c.MinNumber, c.MaxNumber)
		}
		return chain.PackPlay(in.Number, in.Stake)
	case chain.GameSlot:
		return chain.PackSpin(in.Stake)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGame, c.Game)
}
