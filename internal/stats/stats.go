// Package stats derives best-effort lifetime statistics for a player from
// three sources of decreasing recency: the indexed aggregate, the indexed raw
// events, and a direct scan of the ledger.
package stats

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/miniapp-games/internal/indexer"
	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
	"github.com/R3E-Network/miniapp-games/pkg/timeutil"
)

// Source identifies which data source produced a snapshot.
type Source string

const (
	SourceAggregate Source = "indexer_aggregate"
	SourceEvents    Source = "indexer_events"
	SourceLedger    Source = "ledger"
)

// Stats is a statistics snapshot in token base units.
type Stats struct {
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Source      Source          `json:"source"`
}

// Indexer is the subgraph surface the aggregator needs.
type Indexer interface {
	FetchAggregate(ctx context.Context, account common.Address) *indexer.Aggregate
	FetchRawEvents(ctx context.Context, account common.Address) []indexer.Event
}

// Ledger produces counters straight from ledger state.
type Ledger interface {
	Counters(ctx context.Context, account common.Address) Stats
}

// Config holds the post-action refetch schedule.
type Config struct {
	// RefetchDelays are waited before each indexer check in RefetchAfterAction.
	RefetchDelays []time.Duration
}

// DefaultRefetchDelays is the schedule used when none is configured.
var DefaultRefetchDelays = []time.Duration{3 * time.Second, 5 * time.Second, 7 * time.Second}

// Aggregator combines the indexer and the ledger.
type Aggregator struct {
	indexer Indexer
	ledger  Ledger
	delays  []time.Duration
	log     *logger.Logger
}

// NewAggregator creates an aggregator. idx may be nil when the game has no
// subgraph, in which case every snapshot comes from the ledger.
func NewAggregator(idx Indexer, ledger Ledger, cfg Config, log *logger.Logger) *Aggregator {
	delays := cfg.RefetchDelays
	if delays == nil {
		delays = DefaultRefetchDelays
	}
	return &Aggregator{
		indexer: idx,
		ledger:  ledger,
		delays:  delays,
		log:     logger.OrDefault(log, "stats"),
	}
}

// GetStats returns the indexed aggregate when present, else the sum of the
// indexed raw events when there are any, else the ledger counters. Sources
// are never merged.
func (a *Aggregator) GetStats(ctx context.Context, account common.Address) Stats {
	if a.indexer != nil {
		if agg := a.indexer.FetchAggregate(ctx, account); agg != nil {
			return a.record(fromAggregate(agg))
		}
		if events := a.indexer.FetchRawEvents(ctx, account); len(events) > 0 {
			return a.record(fromEvents(events))
		}
	}
	return a.record(a.ledgerStats(ctx, account))
}

// RefetchAfterAction is called after a request is fulfilled. It waits out
// indexing lag, checking the indexer after each configured delay and
// returning the first non-empty answer, then falls back to the ledger.
func (a *Aggregator) RefetchAfterAction(ctx context.Context, account common.Address) Stats {
	if a.indexer != nil {
		for i, d := range a.delays {
			if err := timeutil.Sleep(ctx, d); err != nil {
				break
			}
			if agg := a.indexer.FetchAggregate(ctx, account); agg != nil && agg.Count > 0 {
				return a.record(fromAggregate(agg))
			}
			if events := a.indexer.FetchRawEvents(ctx, account); len(events) > 0 {
				return a.record(fromEvents(events))
			}
			a.log.WithFields(map[string]any{
				"account": account.Hex(),
				"check":   i + 1,
			}).Debug("indexer has no data yet")
		}
	}
	return a.record(a.ledgerStats(ctx, account))
}

func (a *Aggregator) ledgerStats(ctx context.Context, account common.Address) Stats {
	if a.ledger == nil {
		return Stats{TotalAmount: decimal.Zero, Source: SourceLedger}
	}
	s := a.ledger.Counters(ctx, account)
	s.Source = SourceLedger
	return s
}

func (a *Aggregator) record(s Stats) Stats {
	metrics.RecordStatsSource(string(s.Source))
	return s
}

func fromAggregate(agg *indexer.Aggregate) Stats {
	return Stats{Count: agg.Count, TotalAmount: agg.TotalPayout, Source: SourceAggregate}
}

func fromEvents(events []indexer.Event) Stats {
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Payout)
	}
	return Stats{Count: int64(len(events)), TotalAmount: total, Source: SourceEvents}
}
