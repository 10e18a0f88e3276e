// Package config loads the mini-app client configuration from the process
// environment (optionally seeded from a .env file) and the games file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/identity"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/reconciler"
	"github.com/R3E-Network/miniapp-games/internal/reveal"
	"github.com/R3E-Network/miniapp-games/internal/stats"
	"github.com/R3E-Network/miniapp-games/internal/submit"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// Config is the process configuration. Environment fields carry their
// defaults in the env tag; Games and Token come from the games file.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// Ledger
	ChainID        uint64        `env:"CHAIN_ID,default=8453"`
	RPCURL         string        `env:"RPC_URL"`
	RPCURLFallback string        `env:"RPC_URL_FALLBACK"`
	RPCTimeout     time.Duration `env:"RPC_TIMEOUT,default=15s"`

	// Read path
	ReadMaxAttempts    int           `env:"READ_MAX_ATTEMPTS,default=3"`
	ReadBaseBackoff    time.Duration `env:"READ_BASE_BACKOFF,default=250ms"`
	ReadAttemptTimeout time.Duration `env:"READ_ATTEMPT_TIMEOUT,default=10s"`
	BreakerThreshold   int           `env:"READ_BREAKER_THRESHOLD,default=5"`
	BreakerTimeout     time.Duration `env:"READ_BREAKER_TIMEOUT,default=30s"`

	// Write path and reconciliation
	PrivateKey          string        `env:"PRIVATE_KEY"`
	GasLimit            uint64        `env:"GAS_LIMIT,default=500000"`
	ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL,default=2s"`
	ReceiptTimeout      time.Duration `env:"RECEIPT_TIMEOUT,default=2m"`
	PollInterval        time.Duration `env:"POLL_INTERVAL,default=2s"`
	MaxPollAttempts     int           `env:"MAX_POLL_ATTEMPTS,default=30"`

	// Stats
	SubgraphAPIKey string `env:"SUBGRAPH_API_KEY"`
	// RefetchDelays is a semicolon-separated list of durations.
	RefetchDelays string `env:"STATS_REFETCH_DELAYS,default=3s;5s;7s"`

	// Identity
	IdentityAPIURL string        `env:"IDENTITY_API_URL,default=https://api.neynar.com"`
	IdentityAPIKey string        `env:"IDENTITY_API_KEY"`
	IdentityTTL    time.Duration `env:"IDENTITY_TTL,default=5m"`
	RedisURL       string        `env:"REDIS_URL"`

	// HTTP surface
	HTTPAddr       string  `env:"HTTP_ADDR,default=:8080"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`
	CORSOrigins    string  `env:"CORS_ORIGINS,default=*"`

	// Presentation
	RevealInitialDelay time.Duration `env:"REVEAL_INITIAL_DELAY,default=1s"`
	RevealStagger      time.Duration `env:"REVEAL_STAGGER,default=500ms"`

	GamesFile string `env:"GAMES_CONFIG,default=config/games.yaml"`

	Token string                    `yaml:"token"`
	Games map[chain.Game]GameConfig `yaml:"games"`
}

// GameConfig describes one deployed game.
type GameConfig struct {
	Contract    string `yaml:"contract"`
	SubgraphURL string `yaml:"subgraph_url"`
	DeployBlock uint64 `yaml:"deploy_block"`
	// MaxBlockRange caps one ledger log query during stats scans.
	MaxBlockRange uint64 `yaml:"max_block_range"`
	// Guess range, inclusive. Ignored for the slot.
	MinNumber uint8 `yaml:"min_number"`
	MaxNumber uint8 `yaml:"max_number"`
	// Stake bounds in token base units; empty means unbounded.
	MinStake string `yaml:"min_stake"`
	MaxStake string `yaml:"max_stake"`
}

type gamesFile struct {
	Token string                    `yaml:"token"`
	Games map[chain.Game]GameConfig `yaml:"games"`
}

// Load reads .env from the working directory if present, then the
// environment, then the games file.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file; an empty path skips it.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.LoadGames(cfg.GamesFile); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadGames reads the games file at path into cfg.
func (c *Config) LoadGames(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read games config: %w", err)
	}
	var gf gamesFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return fmt.Errorf("failed to parse games config: %w", err)
	}
	c.Token = gf.Token
	c.Games = gf.Games
	return nil
}

// Validate checks the fields every entry point needs.
func (c *Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if c.PollInterval <= 0 || c.MaxPollAttempts <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL and MAX_POLL_ATTEMPTS must be positive"))
	}
	if _, err := c.RefetchSchedule(); err != nil {
		errs = append(errs, err)
	}
	if !common.IsHexAddress(c.Token) {
		errs = append(errs, fmt.Errorf("token: invalid address %q", c.Token))
	}
	if len(c.Games) == 0 {
		errs = append(errs, errors.New("no games configured"))
	}
	for g, gc := range c.Games {
		if !g.Valid() {
			errs = append(errs, fmt.Errorf("unknown game %q", g))
			continue
		}
		if !common.IsHexAddress(gc.Contract) {
			errs = append(errs, fmt.Errorf("%s: invalid contract address %q", g, gc.Contract))
		}
		if g == chain.GameGuess && gc.MinNumber >= gc.MaxNumber {
			errs = append(errs, fmt.Errorf("%s: min_number must be below max_number", g))
		}
		for _, s := range []string{gc.MinStake, gc.MaxStake} {
			if s != "" {
				if _, ok := new(big.Int).SetString(s, 10); !ok {
					errs = append(errs, fmt.Errorf("%s: invalid stake bound %q", g, s))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// RefetchSchedule parses RefetchDelays.
func (c *Config) RefetchSchedule() ([]time.Duration, error) {
	if strings.TrimSpace(c.RefetchDelays) == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(c.RefetchDelays, ";") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("STATS_REFETCH_DELAYS: invalid duration %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}

// TokenAddress returns the stake token.
func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

// ContractAddress returns the contract of game g.
func (gc GameConfig) ContractAddress() common.Address {
	return common.HexToAddress(gc.Contract)
}

// StakeBounds returns the parsed stake bounds; nil means unbounded.
func (gc GameConfig) StakeBounds() (lo, hi *big.Int) {
	if gc.MinStake != "" {
		lo, _ = new(big.Int).SetString(gc.MinStake, 10)
	}
	if gc.MaxStake != "" {
		hi, _ = new(big.Int).SetString(gc.MaxStake, 10)
	}
	return lo, hi
}

// CORSAllowList splits CORSOrigins on commas.
func (c *Config) CORSAllowList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// =============================================================================
// Component configs
// =============================================================================

func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.LogLevel, Format: c.LogFormat}
}

func (c *Config) Chain() chain.Config {
	return chain.Config{RPCURL: c.RPCURL, Timeout: c.RPCTimeout}
}

// FallbackChain returns the secondary endpoint config, or false when none is
// configured.
func (c *Config) FallbackChain() (chain.Config, bool) {
	if c.RPCURLFallback == "" {
		return chain.Config{}, false
	}
	return chain.Config{RPCURL: c.RPCURLFallback, Timeout: c.RPCTimeout}, true
}

func (c *Config) Reader() reader.Config {
	bc := reader.DefaultBreakerConfig()
	if c.BreakerThreshold > 0 {
		bc.FailureThreshold = c.BreakerThreshold
	}
	if c.BreakerTimeout > 0 {
		bc.Timeout = c.BreakerTimeout
	}
	return reader.Config{
		MaxAttempts:    c.ReadMaxAttempts,
		BaseBackoff:    c.ReadBaseBackoff,
		AttemptTimeout: c.ReadAttemptTimeout,
		Breaker:        bc,
	}
}

func (c *Config) Submit() submit.Config {
	return submit.Config{
		GasLimit:       c.GasLimit,
		PollInterval:   c.ReceiptPollInterval,
		ReceiptTimeout: c.ReceiptTimeout,
	}
}

func (c *Config) Reconciler() reconciler.Config {
	return reconciler.Config{PollInterval: c.PollInterval, MaxPollAttempts: c.MaxPollAttempts}
}

func (c *Config) Stats() stats.Config {
	delays, _ := c.RefetchSchedule()
	return stats.Config{RefetchDelays: delays}
}

func (c *Config) Identity() identity.Config {
	return identity.Config{BaseURL: c.IdentityAPIURL, APIKey: c.IdentityAPIKey, TTL: c.IdentityTTL}
}

func (c *Config) Reveal() reveal.Config {
	return reveal.Config{InitialDelay: c.RevealInitialDelay, Stagger: c.RevealStagger}
}
