// Package submit sends state-changing game actions and waits for their
// inclusion on the ledger.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	// ErrReceiptUnavailable means the transaction was sent but its inclusion
	// could not be observed. The action may still succeed.
	ErrReceiptUnavailable = fmt.Errorf("receipt unavailable: %w", session.ErrUnknownOutcome)
	// ErrSendUncertain means broadcasting failed in a way that does not rule
	// out that the node accepted the transaction.
	ErrSendUncertain = fmt.Errorf("send outcome uncertain: %w", session.ErrUnknownOutcome)
	// ErrReverted means the transaction was included and reverted.
	ErrReverted = errors.New("transaction reverted")
)

const (
	DefaultGasLimit       uint64 = 500_000
	DefaultPollInterval          = 2 * time.Second
	DefaultReceiptTimeout        = 2 * time.Minute
)

// Action is a state-changing call on a game or token contract.
type Action struct {
	Game     chain.Game
	Contract common.Address
	Data     []byte
}

// Receipt is the part of a transaction receipt the client uses.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
	Logs        []*types.Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// RequestID returns the VRF request ID from the randomness request event
// that contract emitted for player, or nil when there is none.
func (r *Receipt) RequestID(g chain.Game, contract, player common.Address) *big.Int {
	return chain.FindRequestID(g, r.Logs, contract, player)
}

// ReceiptSource looks up transaction receipts.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Tracker remembers requests whose outcome is unknown so they can be
// checked later.
type Tracker interface {
	Track(account common.Address, req *session.Request)
}

// Config controls submission.
type Config struct {
	// GasLimit is the fixed gas ceiling for every action.
	GasLimit uint64
	// PollInterval is the delay between receipt lookups.
	PollInterval time.Duration
	// ReceiptTimeout bounds the receipt wait. Zero leaves it to the caller's context.
	ReceiptTimeout time.Duration
}

// DefaultConfig returns the default submission policy.
func DefaultConfig() Config {
	return Config{
		GasLimit:       DefaultGasLimit,
		PollInterval:   DefaultPollInterval,
		ReceiptTimeout: DefaultReceiptTimeout,
	}
}

// Submitter sends actions through a wallet and waits for their receipts.
type Submitter struct {
	wallet   Wallet
	receipts ReceiptSource
	reader   *reader.Client
	tracker  Tracker
	cfg      Config
	log      *logger.Logger
}

// New creates a submitter. tracker may be nil.
func New(wallet Wallet, receipts ReceiptSource, rc *reader.Client, tracker Tracker, cfg Config, log *logger.Logger) *Submitter {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Submitter{
		wallet:   wallet,
		receipts: receipts,
		reader:   rc,
		tracker:  tracker,
		cfg:      cfg,
		log:      logger.OrDefault(log, "submit"),
	}
}

// Wallet returns the signing wallet.
func (s *Submitter) Wallet() Wallet {
	return s.wallet
}

// Submit sends action for req and waits for inclusion. On success req is
// Confirmed at the receipt block. A revert marks req Failed; an unobservable
// receipt marks it Abandoned, hands it to the tracker and returns
// ErrReceiptUnavailable.
func (s *Submitter) Submit(ctx context.Context, sess *session.Session, req *session.Request, action Action) (*Receipt, error) {
	// The head before sending is a lower bound for the inclusion block.
	head := s.reader.BlockNumber(ctx)

	var lowerBound uint64
	if head.Known() {
		lowerBound = head.Value
	}

	hash, err := s.wallet.SendTransaction(ctx, action.Contract, action.Data, s.cfg.GasLimit)
	if err != nil {
		if hash == (common.Hash{}) || chain.Classify(err) != chain.Retryable {
			sess.Fail(req)
			return nil, fmt.Errorf("submit %s: %w", action.Game, err)
		}
		// Signed and possibly broadcast: keep the hash so a later
		// reconnect can still find the result.
		sess.Sent(req, hash, lowerBound)
		sess.Abandon(req)
		if s.tracker != nil {
			s.tracker.Track(sess.Account, req)
		}
		s.log.WithError(err).WithFields(map[string]any{
			"request": req.ID.String(),
			"tx":      hash.Hex(),
		}).Warn("send failed after signing, outcome unknown")
		return nil, fmt.Errorf("%w: tx %s: %w", ErrSendUncertain, hash.Hex(), err)
	}
	sess.Sent(req, hash, lowerBound)

	entry := s.log.WithFields(map[string]any{
		"request": req.ID.String(),
		"game":    action.Game,
		"tx":      hash.Hex(),
	})
	entry.Info("action sent")

	rcpt, err := s.WaitForReceipt(ctx, hash)
	if err != nil {
		sess.Abandon(req)
		if s.tracker != nil {
			s.tracker.Track(sess.Account, req)
		}
		entry.WithError(err).Warn("receipt unavailable")
		return nil, fmt.Errorf("%w: tx %s: %w", ErrReceiptUnavailable, hash.Hex(), err)
	}

	if !rcpt.Succeeded() {
		sess.Fail(req)
		entry.WithField("block", rcpt.BlockNumber).Warn("action reverted")
		return rcpt, fmt.Errorf("%w: tx %s in block %d", ErrReverted, hash.Hex(), rcpt.BlockNumber)
	}

	if err := sess.Confirm(req, rcpt.BlockNumber, rcpt.RequestID(action.Game, action.Contract, sess.Account)); err != nil {
		return rcpt, err
	}
	return rcpt, nil
}

// SendAndWait sends a call outside any request lifecycle, such as a token
// approval, and waits for a successful receipt.
func (s *Submitter) SendAndWait(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	hash, err := s.wallet.SendTransaction(ctx, to, data, s.cfg.GasLimit)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s: %w", ErrReceiptUnavailable, hash.Hex(), err)
	}
	if !rcpt.Succeeded() {
		return rcpt, fmt.Errorf("%w: tx %s", ErrReverted, hash.Hex())
	}
	return rcpt, nil
}

// WaitForReceipt polls for the receipt of hash until it is available, the
// context ends, or a fatal error occurs. Not-found and retryable errors keep
// waiting.
func (s *Submitter) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if s.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r, err := s.receipts.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && r != nil:
			return toReceipt(r), nil
		case err == nil, errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case chain.Classify(err) == chain.Retryable:
			s.log.WithError(err).WithField("tx", hash.Hex()).Debug("receipt lookup failed, retrying")
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:  r.TxHash,
		Status:  r.Status,
		GasUsed: r.GasUsed,
		Logs:    r.Logs,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
