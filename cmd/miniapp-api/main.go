// Command miniapp-api serves player stats and social identities for the
// mini-app frontends.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/miniapp-games/internal/api"
	"github.com/R3E-Network/miniapp-games/internal/config"
	"github.com/R3E-Network/miniapp-games/internal/game"
	"github.com/R3E-Network/miniapp-games/internal/identity"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("miniapp-api").WithError(err).Fatal("invalid configuration")
	}
	log := logger.New("miniapp-api", cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := game.Wire(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire engine")
	}
	defer rt.Close()

	idCfg := cfg.Identity()
	var cache identity.Cache = identity.NewMemoryCache(identity.DefaultCacheSize, idCfg.TTL)
	if cfg.RedisURL != "" {
		shared, err := identity.NewRedisCache(cfg.RedisURL, idCfg.TTL)
		if err != nil {
			log.WithError(err).Fatal("invalid REDIS_URL")
		}
		defer shared.Close()
		if err := shared.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unreachable, identity cache degrades to local only")
		}
		cache = identity.Tiered{Local: cache, Shared: shared}
	}
	if idCfg.APIKey == "" {
		log.Warn("IDENTITY_API_KEY not set; identity lookups disabled")
	}
	resolver := identity.New(idCfg, nil, cache, log.Named("identity"))

	srv := api.NewServer(api.Config{
		Addr:           cfg.HTTPAddr,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSAllowList(),
	}, rt.Engine, resolver, log)

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
