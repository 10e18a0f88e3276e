// Package reconciler matches asynchronous VRF fulfillment events to the
// request that caused them and applies each result exactly once.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	// ErrOutcomeUnknown means no fulfillment was observed within the poll
	// budget. The play may still resolve on the ledger.
	ErrOutcomeUnknown = fmt.Errorf("fulfillment not observed: %w", session.ErrUnknownOutcome)
	// ErrSuperseded means the session was replaced while the request was
	// outstanding; any result found is discarded.
	ErrSuperseded = errors.New("session superseded")
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 30
)

// Config controls fulfillment polling.
type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

// DefaultConfig returns the default polling policy.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
	}
}

// Publisher receives every outcome applied by the reconciler, including late
// ones found during recovery.
type Publisher interface {
	Publish(out *session.Outcome)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(out *session.Outcome)

func (f PublisherFunc) Publish(out *session.Outcome) { f(out) }

// ReceiptSource looks up transaction receipts during recovery.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Reconciler polls the ledger for fulfillment events.
type Reconciler struct {
	reader    *reader.Client
	receipts  ReceiptSource
	publisher Publisher
	recovery  *RecoveryLedger
	cfg       Config
	log       *logger.Logger
}

// New creates a reconciler. receipts, publisher and recovery may be nil.
func New(rc *reader.Client, receipts ReceiptSource, publisher Publisher, recovery *RecoveryLedger, cfg Config, log *logger.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if recovery == nil {
		recovery = NewRecoveryLedger()
	}
	return &Reconciler{
		reader:    rc,
		receipts:  receipts,
		publisher: publisher,
		recovery:  recovery,
		cfg:       cfg,
		log:       logger.OrDefault(log, "reconciler"),
	}
}

// Recovery returns the ledger of abandoned requests.
func (r *Reconciler) Recovery() *RecoveryLedger {
	return r.recovery
}

// Await polls for the fulfillment of a Confirmed request. It returns the
// applied outcome, ErrOutcomeUnknown when the poll budget is spent, or
// ErrSuperseded when the session ends first. In the last two cases req is
// Abandoned; a request cut short by cancellation is kept for recovery.
func (r *Reconciler) Await(ctx context.Context, sess *session.Session, req *session.Request) (*session.Outcome, error) {
	if err := sess.StartAwaiting(req); err != nil {
		return nil, err
	}

	entry := r.log.WithFields(map[string]any{
		"request": req.ID.String(),
		"game":    req.Game,
		"from":    req.SubmissionBlock(),
	})

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return nil, r.superseded(sess, req, entry)
		case <-ctx.Done():
			if sess.Context().Err() != nil {
				return nil, r.superseded(sess, req, entry)
			}
			if sess.Abandon(req) {
				r.recovery.Track(sess.Account, req)
			}
			return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctx.Err())
		case <-ticker.C:
		}

		attempt, err := sess.NextPoll(req)
		if err != nil {
			// Delivered by another path between ticks.
			if out := req.Outcome(); out != nil {
				return out, nil
			}
			return nil, err
		}
		metrics.RecordPoll(string(req.Game))

		f := r.find(ctx, req.Game, req.Contract, sess.Account, req.SubmissionBlock(), req.VRFRequestID())
		if f != nil {
			if !sess.IsCurrent(req) {
				return nil, r.superseded(sess, req, entry)
			}
			r.Apply(sess, req, f)
			if out := req.Outcome(); out != nil {
				return out, nil
			}
			return nil, fmt.Errorf("request %s ended as %s", req.ID, req.Status())
		}

		if attempt >= r.cfg.MaxPollAttempts {
			if sess.Abandon(req) {
				r.recovery.Track(sess.Account, req)
				metrics.RecordOutcome(string(req.Game), "abandoned", 0)
			}
			entry.WithField("attempts", attempt).Warn("fulfillment not observed, giving up")
			return nil, ErrOutcomeUnknown
		}
	}
}

// Apply applies f to req if req still belongs to the current session and is
// not terminal. It reports whether anything changed; a second application
// of the same result is a no-op.
func (r *Reconciler) Apply(sess *session.Session, req *session.Request, f *chain.Fulfillment) bool {
	if !sess.IsCurrent(req) {
		r.log.WithField("request", req.ID.String()).Debug("discarding result for superseded session")
		return false
	}
	out := session.OutcomeFrom(req.ID, f)
	if !sess.Fulfill(req, out) {
		return false
	}
	metrics.RecordOutcome(string(req.Game), "fulfilled", time.Since(req.Snapshot().ConfirmedAt))
	r.publish(out)
	return true
}

// Deliver applies an externally observed fulfillment, for example from a
// log subscription, to the session's pending request when it matches.
func (r *Reconciler) Deliver(sess *session.Session, f *chain.Fulfillment) bool {
	req := sess.Pending()
	if req == nil || f == nil {
		return false
	}
	if f.Game != req.Game || f.Player != sess.Account || f.BlockNumber < req.SubmissionBlock() {
		return false
	}
	if id := req.VRFRequestID(); id != nil && (f.RequestID == nil || id.Cmp(f.RequestID) != 0) {
		return false
	}
	switch req.Status() {
	case session.StatusConfirmed, session.StatusAwaitingFulfillment:
	default:
		return false
	}
	return r.Apply(sess, req, f)
}

// find returns the latest matching fulfillment in [from, head], or nil when
// none is visible or the ledger could not be read.
func (r *Reconciler) find(ctx context.Context, g chain.Game, contract, player common.Address, from uint64, vrfID *big.Int) *chain.Fulfillment {
	head := r.reader.BlockNumber(ctx)
	if !head.Known() || head.Value < from {
		return nil
	}

	topics := [][]common.Hash{{chain.ResultTopic(g)}, {chain.PlayerTopic(player)}}
	if vrfID != nil {
		topics = append(topics, []common.Hash{chain.RequestIDTopic(vrfID)})
	}
	logs := r.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head.Value),
		Addresses: []common.Address{contract},
		Topics:    topics,
	})
	if !logs.Known() {
		return nil
	}

	var best *chain.Fulfillment
	for _, lg := range logs.Value {
		f, err := chain.ParseFulfillment(g, lg)
		if err != nil {
			r.log.WithError(err).Debug("skipping undecodable log")
			continue
		}
		if f.Player != player || f.BlockNumber < from {
			continue
		}
		if f.After(best) {
			best = f
		}
	}
	return best
}

func (r *Reconciler) superseded(sess *session.Session, req *session.Request, entry *logrus.Entry) error {
	if sess.Abandon(req) {
		r.recovery.Track(sess.Account, req)
	}
	entry.Info("session superseded, result discarded")
	return ErrSuperseded
}

func (r *Reconciler) publish(out *session.Outcome) {
	if r.publisher != nil {
		r.publisher.Publish(out)
	}
}
