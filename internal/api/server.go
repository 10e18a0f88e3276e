// Package api serves the read-only HTTP surface of the mini-apps: player
// stats and verified social identities.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/game"
	"github.com/R3E-Network/miniapp-games/internal/httputil"
	"github.com/R3E-Network/miniapp-games/internal/identity"
	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/internal/middleware"
	"github.com/R3E-Network/miniapp-games/internal/stats"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// maxBulkAddresses bounds one bulk identity request.
const maxBulkAddresses = 1000

// StatsSource is the part of the game engine the API reads.
type StatsSource interface {
	Games() []chain.Game
	Stats(ctx context.Context, g chain.Game, account common.Address) (stats.Stats, error)
}

// IdentityResolver resolves addresses to social profiles.
type IdentityResolver interface {
	Lookup(ctx context.Context, address string) ([]identity.Profile, error)
	LookupMany(ctx context.Context, addresses []string) (map[string][]identity.Profile, error)
}

type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Server is the API HTTP server.
type Server struct {
	cfg      Config
	stats    StatsSource
	identity IdentityResolver
	limiter  *middleware.RateLimiter
	log      *logger.Logger
}

func NewServer(cfg Config, st StatsSource, id IdentityResolver, log *logger.Logger) *Server {
	log = logger.OrDefault(log, "api")
	return &Server{
		cfg:      cfg,
		stats:    st,
		identity: id,
		limiter:  middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit")),
		log:      log,
	}
}

// Router registers the routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Handler)
	api.HandleFunc("/games", s.handleGames).Methods(http.MethodGet)
	api.HandleFunc("/stats/{game}/{account}", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/identity", s.handleIdentityBulk).Methods(http.MethodGet)
	api.HandleFunc("/identity/{address}", s.handleIdentity).Methods(http.MethodGet)
	return r
}

// Handler is the router wrapped in the server-wide middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = middleware.NewCORSMiddleware(s.cfg.CORSOrigins).Handler(h)
	h = middleware.RequestID(s.log.Named("http"))(h)
	return metrics.InstrumentHandler(h)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGames(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, s.stats.Games())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	g := chain.Game(vars["game"])
	if !common.IsHexAddress(vars["account"]) {
		httputil.BadRequest(w, "invalid account address")
		return
	}

	st, err := s.stats.Stats(r.Context(), g, common.HexToAddress(vars["account"]))
	switch {
	case errors.Is(err, game.ErrUnknownGame):
		httputil.NotFound(w, err.Error())
	case err != nil:
		s.log.WithError(err).WithField("game", g).Error("stats lookup failed")
		httputil.InternalError(w, "stats unavailable")
	default:
		httputil.WriteSuccess(w, st)
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.identity.Lookup(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.identityError(w, err)
		return
	}
	httputil.WriteSuccess(w, profiles)
}

func (s *Server) handleIdentityBulk(w http.ResponseWriter, r *http.Request) {
	var addresses []string
	for _, a := range strings.Split(r.URL.Query().Get("addresses"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		httputil.BadRequest(w, "addresses required")
		return
	}
	if len(addresses) > maxBulkAddresses {
		httputil.BadRequest(w, "too many addresses")
		return
	}

	out, err := s.identity.LookupMany(r.Context(), addresses)
	if err != nil {
		s.identityError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) identityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidAddress):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, identity.ErrNotConfigured):
		httputil.WriteError(w, http.StatusServiceUnavailable, "identity lookup not configured")
	case errors.Is(err, identity.ErrUpstream):
		s.log.WithError(err).Warn("identity upstream failed")
		httputil.WriteError(w, http.StatusBadGateway, "identity provider unavailable")
	default:
		s.log.WithError(err).Error("identity lookup failed")
		httputil.InternalError(w, "identity lookup failed")
	}
}
