// Package session models a connected player and the single request that
// player may have outstanding.
//
// A Session is created by Manager.Connect and superseded by the next Connect
// or by Disconnect. Superseding cancels the session context, which stops every
// poll running on its behalf; results arriving for a superseded session are
// discarded by the reconciler.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	// ErrUnknownOutcome is the root of every "did not fail, did not confirm" error.
	ErrUnknownOutcome = errors.New("outcome unknown")

	ErrPendingRequest    = errors.New("a request is already pending for this session")
	ErrNotConnected      = errors.New("session not connected")
	ErrWrongNetwork      = errors.New("wrong network")
	ErrInvalidTransition = errors.New("invalid request transition")
)

// Totals are the session-local running counters of applied outcomes.
type Totals struct {
	Plays  int64
	Payout decimal.Decimal
}

// Session is one connected participant.
type Session struct {
	ID         uuid.UUID
	Account    common.Address
	ChainID    uint64
	Generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger

	mu        sync.Mutex
	connected bool
	pending   *Request
	totals    Totals
}

func newSession(parent context.Context, account common.Address, chainID, generation uint64, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New()
	return &Session{
		ID:         id,
		Account:    account,
		ChainID:    chainID,
		Generation: generation,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With("session", id.String()).With("account", account.Hex()),
		connected:  true,
	}
}

// New creates a standalone connected session. Most callers use Manager.Connect.
func New(ctx context.Context, account common.Address, chainID uint64, log *logger.Logger) *Session {
	return newSession(ctx, account, chainID, 1, logger.OrDefault(log, "session"))
}

// Context is cancelled when the session is superseded.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session is superseded.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Connected reports whether the session is still the live one.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.ctx.Err() == nil
}

// Pending returns the outstanding request, or nil.
func (s *Session) Pending() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Totals returns the locally applied counters.
func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// IsCurrent reports whether results for req may still be applied to s.
func (s *Session) IsCurrent(req *Request) bool {
	return req != nil && req.Generation == s.Generation && s.Connected()
}

// Begin registers a new request for game. It fails with ErrPendingRequest
// while another request is outstanding.
func (s *Session) Begin(game chain.Game, contract common.Address) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.ctx.Err() != nil {
		return nil, ErrNotConnected
	}
	if s.pending != nil {
		return nil, ErrPendingRequest
	}

	req := &Request{
		ID:         uuid.New(),
		Game:       game,
		Contract:   contract,
		Generation: s.Generation,
		CreatedAt:  time.Now(),
		status:     StatusSubmitted,
	}
	s.pending = req
	s.log.WithFields(map[string]any{"request": req.ID.String(), "game": game}).Info("request submitted")
	return req, nil
}

// Sent records the transaction hash and a lower bound for the inclusion block.
func (s *Session) Sent(req *Request, txHash common.Hash, headAtSend uint64) {
	req.mu.Lock()
	defer req.mu.Unlock()
	req.txHash = txHash
	if headAtSend > req.submissionBlock {
		req.submissionBlock = headAtSend
	}
}

// Confirm moves req from Submitted to Confirmed at the receipt's block.
// vrfID may be nil.
func (s *Session) Confirm(req *Request, block uint64, vrfID *big.Int) error {
	if err := s.transition(req, StatusSubmitted, StatusConfirmed, func() {
		req.submissionBlock = block
		req.vrfRequestID = vrfID
		req.confirmedAt = time.Now()
	}); err != nil {
		return err
	}
	s.log.WithFields(map[string]any{"request": req.ID.String(), "block": block}).Info("request confirmed")
	return nil
}

// StartAwaiting moves req from Confirmed to AwaitingFulfillment.
func (s *Session) StartAwaiting(req *Request) error {
	return s.transition(req, StatusConfirmed, StatusAwaitingFulfillment, nil)
}

// NextPoll increments and returns the poll attempt counter.
func (s *Session) NextPoll(req *Request) (int, error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.status != StatusAwaitingFulfillment {
		return req.pollAttempt, fmt.Errorf("%w: poll in status %s", ErrInvalidTransition, req.status)
	}
	req.pollAttempt++
	return req.pollAttempt, nil
}

// Fulfill applies outcome to req and the session. It is the only transition
// into Fulfilled and returns false, changing nothing, when req is already
// terminal.
func (s *Session) Fulfill(req *Request, outcome *Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.mu.Lock()
	defer req.mu.Unlock()

	if req.status.Terminal() {
		return false
	}
	req.status = StatusFulfilled
	req.outcome = outcome
	if s.pending == req {
		s.pending = nil
	}
	s.totals.Plays++
	s.totals.Payout = s.totals.Payout.Add(outcome.Payout)

	s.log.WithFields(map[string]any{
		"request": req.ID.String(),
		"won":     outcome.Won,
		"payout":  outcome.Payout.String(),
	}).Info("request fulfilled")
	return true
}

// Fail marks req as Failed and releases the pending slot.
func (s *Session) Fail(req *Request) bool {
	return s.finish(req, StatusFailed)
}

// Abandon marks req as Abandoned and releases the pending slot.
func (s *Session) Abandon(req *Request) bool {
	return s.finish(req, StatusAbandoned)
}

func (s *Session) finish(req *Request, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.mu.Lock()
	defer req.mu.Unlock()

	if req.status.Terminal() {
		return false
	}
	req.status = status
	if s.pending == req {
		s.pending = nil
	}
	s.log.WithFields(map[string]any{"request": req.ID.String(), "status": status}).Info("request finished")
	return true
}

func (s *Session) transition(req *Request, from, to Status, apply func()) error {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.status != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, req.status)
	}
	req.status = to
	if apply != nil {
		apply()
	}
	return nil
}

func (s *Session) close() {
	s.mu.Lock()
	s.connected = false
	s.pending = nil
	s.mu.Unlock()
	s.cancel()
}
