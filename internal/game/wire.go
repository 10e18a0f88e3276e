package game

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/config"
	"github.com/R3E-Network/miniapp-games/internal/indexer"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/reconciler"
	"github.com/R3E-Network/miniapp-games/internal/reveal"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/internal/stats"
	"github.com/R3E-Network/miniapp-games/internal/submit"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

const feedBuffer = 16

// Runtime is a fully wired engine and the pieces entry points use directly.
type Runtime struct {
	Engine   *Engine
	Feed     *Feed
	Reveal   *reveal.Choreographer
	Reader   *reader.Client
	Primary  *ethclient.Client
	Sessions *session.Manager
	// Wallet is nil for a read-only runtime.
	Wallet submit.Wallet

	clients []*ethclient.Client
}

// Close releases the RPC connections.
func (rt *Runtime) Close() {
	for _, c := range rt.clients {
		c.Close()
	}
}

// Wire dials the configured endpoints and builds the engine. The engine can
// play only when cfg.PrivateKey is set.
func Wire(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	log = logger.OrDefault(log, "game")

	primary, err := chain.Dial(ctx, cfg.Chain())
	if err != nil {
		return nil, fmt.Errorf("primary endpoint: %w", err)
	}
	rt := &Runtime{Primary: primary, clients: []*ethclient.Client{primary}}

	var secondary chain.Backend
	if fb, ok := cfg.FallbackChain(); ok {
		sec, err := chain.Dial(ctx, fb)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("secondary endpoint: %w", err)
		}
		rt.clients = append(rt.clients, sec)
		secondary = sec
	}

	rt.Reader = reader.New(cfg.Reader(), primary, secondary, log.Named("reader"))
	rt.Feed = NewFeed(feedBuffer, log.Named("feed"))
	rt.Reveal = reveal.New(cfg.Reveal())
	rt.Sessions = session.NewManager(cfg.ChainID, log.Named("session"))

	recovery := reconciler.NewRecoveryLedger()
	rec := reconciler.New(rt.Reader, primary, rt.Feed, recovery, cfg.Reconciler(), log.Named("reconciler"))

	var sub *submit.Submitter
	if cfg.PrivateKey != "" {
		wallet, err := submit.NewKeyedWallet(primary, cfg.PrivateKey, cfg.ChainID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Wallet = wallet
		sub = submit.New(wallet, primary, rt.Reader, recovery, cfg.Submit(), log.Named("submit"))
	}

	anchors := reader.NewAnchorStore()
	names := make([]chain.Game, 0, len(cfg.Games))
	for g := range cfg.Games {
		names = append(names, g)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	contracts := make([]*Contract, 0, len(names))
	for _, g := range names {
		gc := cfg.Games[g]
		glog := log.With("game", string(g))

		var idx stats.Indexer
		if gc.SubgraphURL != "" {
			idx = indexer.New(indexer.Config{URL: gc.SubgraphURL, APIKey: cfg.SubgraphAPIKey}, nil, glog.Named("indexer"))
		}
		ledger := stats.NewLedgerSource(rt.Reader, anchors, stats.LedgerConfig{
			Game:          g,
			Contract:      gc.ContractAddress(),
			DeployBlock:   gc.DeployBlock,
			MaxBlockRange: gc.MaxBlockRange,
		}, glog.Named("stats.ledger"))

		lo, hi := gc.StakeBounds()
		contracts = append(contracts, &Contract{
			Game:      g,
			Address:   gc.ContractAddress(),
			MinNumber: gc.MinNumber,
			MaxNumber: gc.MaxNumber,
			MinStake:  lo,
			MaxStake:  hi,
			Stats:     stats.NewAggregator(idx, ledger, cfg.Stats(), glog.Named("stats")),
		})
	}

	rt.Engine = NewEngine(Deps{
		Reader:     rt.Reader,
		Submitter:  sub,
		Reconciler: rec,
		Sessions:   rt.Sessions,
		Token:      cfg.TokenAddress(),
		Games:      contracts,
	}, log)
	return rt, nil
}
