// Package indexer reads per-player game history from a subgraph. The index
// is eventually consistent and may lag the ledger; every failure is logged
// and reported as "no data".
package indexer

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hasura/go-graphql-client"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// Bytes is the subgraph scalar for hex-encoded byte strings.
type Bytes string

// Aggregate is the indexed lifetime summary for one player.
type Aggregate struct {
	Count       int64
	TotalPayout decimal.Decimal
}

// Event is one indexed fulfillment.
type Event struct {
	ID          string
	Payout      decimal.Decimal
	BlockNumber uint64
}

// Config describes one game's subgraph.
type Config struct {
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

// Client queries one subgraph endpoint.
type Client struct {
	gql *graphql.Client
	cfg Config
	log *logger.Logger
}

// New creates a client for cfg.URL. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, log *logger.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	gql := graphql.NewClient(cfg.URL, httpClient)
	if cfg.APIKey != "" {
		key := cfg.APIKey
		gql = gql.WithRequestModifier(func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+key)
		})
	}

	return &Client{
		gql: gql,
		cfg: cfg,
		log: logger.OrDefault(log, "indexer"),
	}
}

type aggregateQuery struct {
	Player *struct {
		TotalPlays  string `graphql:"totalPlays"`
		TotalPayout string `graphql:"totalPayout"`
	} `graphql:"player(id: $id)"`
}

type eventsQuery struct {
	Results []struct {
		ID          string `graphql:"id"`
		Payout      string `graphql:"payout"`
		BlockNumber string `graphql:"blockNumber"`
	} `graphql:"results(first: $first, where: {player: $player, id_gt: $after}, orderBy: id, orderDirection: asc)"`
}

// FetchAggregate returns the indexed summary for account, or nil when the
// player is not indexed yet or the query failed.
func (c *Client) FetchAggregate(ctx context.Context, account common.Address) *Aggregate {
	var q aggregateQuery
	vars := map[string]any{
		"id": graphql.ID(playerID(account)),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		metrics.RecordIndexerQuery("aggregate", false)
		c.log.WithError(err).WithField("account", account.Hex()).Warn("aggregate query failed")
		return nil
	}
	metrics.RecordIndexerQuery("aggregate", true)

	if q.Player == nil {
		return nil
	}
	count, err := decimal.NewFromString(q.Player.TotalPlays)
	if err != nil {
		c.log.WithError(err).Warn("malformed totalPlays")
		return nil
	}
	total, err := decimal.NewFromString(q.Player.TotalPayout)
	if err != nil {
		c.log.WithError(err).Warn("malformed totalPayout")
		return nil
	}
	return &Aggregate{Count: count.IntPart(), TotalPayout: total}
}

// FetchRawEvents returns every indexed fulfillment for account, newest
// first. Pages are walked by ID until a short page. It returns nil when any
// page fails, so a partial history is never reported.
func (c *Client) FetchRawEvents(ctx context.Context, account common.Address) []Event {
	var (
		events []Event
		after  string
	)
	for {
		var q eventsQuery
		vars := map[string]any{
			"first":  c.cfg.PageSize,
			"player": Bytes(playerID(account)),
			"after":  graphql.ID(after),
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			metrics.RecordIndexerQuery("events", false)
			c.log.WithError(err).WithFields(map[string]any{
				"account": account.Hex(),
				"after":   after,
			}).Warn("events query failed")
			return nil
		}
		metrics.RecordIndexerQuery("events", true)

		for _, r := range q.Results {
			payout, err := decimal.NewFromString(r.Payout)
			if err != nil {
				c.log.WithError(err).WithField("id", r.ID).Warn("skipping event with malformed payout")
				continue
			}
			block, err := decimal.NewFromString(r.BlockNumber)
			if err != nil {
				block = decimal.Zero
			}
			events = append(events, Event{
				ID:          r.ID,
				Payout:      payout,
				BlockNumber: uint64(block.IntPart()),
			})
		}

		if len(q.Results) < c.cfg.PageSize {
			break
		}
		last := q.Results[len(q.Results)-1].ID
		if last <= after {
			c.log.WithField("after", after).Warn("events cursor did not advance")
			return nil
		}
		after = last
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(b.BlockNumber, a.BlockNumber)
	})
	if events == nil {
		events = []Event{}
	}
	return events
}

// playerID is the subgraph entity ID for an address: lower-case hex.
func playerID(account common.Address) string {
	return strings.ToLower(account.Hex())
}
