package stats

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// LedgerConfig scopes the historical scan for one game contract.
type LedgerConfig struct {
	Game        chain.Game
	Contract    common.Address
	DeployBlock uint64
	// MaxBlockRange caps the span of a single log query.
	MaxBlockRange uint64
}

// LedgerSource counts a player's fulfillment events directly on the ledger.
// The first scan covers [DeployBlock, head]; later scans start after the
// stored anchor and add to its running totals.
type LedgerSource struct {
	reader  *reader.Client
	anchors *reader.AnchorStore
	cfg     LedgerConfig
	log     *logger.Logger
}

// NewLedgerSource creates a ledger source. anchors may be shared between
// sources; keys are per contract.
func NewLedgerSource(r *reader.Client, anchors *reader.AnchorStore, cfg LedgerConfig, log *logger.Logger) *LedgerSource {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 10_000
	}
	if anchors == nil {
		anchors = reader.NewAnchorStore()
	}
	return &LedgerSource{
		reader:  r,
		anchors: anchors,
		cfg:     cfg,
		log:     logger.OrDefault(log, "stats.ledger"),
	}
}

// Counters returns the play count and payout total up to the newest block
// that could be scanned. Concurrent calls for the same account may race on
// a chunk; the loser resumes after the winner's anchor so no block is
// counted twice.
func (l *LedgerSource) Counters(ctx context.Context, account common.Address) Stats {
	key := reader.AnchorKey{Account: account, Contract: l.cfg.Contract}
	anchor, ok := l.anchors.Get(key)

	head := l.reader.BlockNumber(ctx)
	if !head.Known() {
		l.log.WithError(head.Err).Warn("head unknown, returning anchored totals")
		return toStats(anchor)
	}

	start := l.cfg.DeployBlock
	if ok {
		start = anchor.Block + 1
	}
	for start <= head.Value {
		end := start + l.cfg.MaxBlockRange - 1
		if end > head.Value || end < start {
			end = head.Value
		}

		count, total, err := l.scan(ctx, account, start, end)
		if err != nil {
			l.log.WithError(err).WithFields(map[string]any{
				"from": start,
				"to":   end,
			}).Warn("log scan failed, returning partial totals")
			break
		}

		next, moved := l.anchors.Advance(key, start, end, count, total)
		if !moved {
			l.log.WithFields(map[string]any{
				"from":   start,
				"anchor": next.Block,
			}).Debug("chunk already counted by a concurrent scan")
		}
		anchor = next
		start = anchor.Block + 1
	}

	return toStats(anchor)
}

// scan counts account's results in [from, to].
func (l *LedgerSource) scan(ctx context.Context, account common.Address, from, to uint64) (int64, decimal.Decimal, error) {
	res := l.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.cfg.Contract},
		Topics: [][]common.Hash{
			{chain.ResultTopic(l.cfg.Game)},
			{chain.PlayerTopic(account)},
		},
	})
	if !res.Known() {
		return 0, decimal.Zero, res.Err
	}

	count, total := int64(0), decimal.Zero
	for _, lg := range res.Value {
		f, err := chain.ParseFulfillment(l.cfg.Game, lg)
		if err != nil {
			l.log.WithError(err).Debug("skipping log")
			continue
		}
		if f.Player != account {
			continue
		}
		count++
		total = total.Add(f.Payout)
	}
	return count, total, nil
}

func toStats(a reader.Anchor) Stats {
	return Stats{Count: a.Count, TotalAmount: a.Total, Source: SourceLedger}
}
