// Package reader implements the resilient ledger read path: bounded retries
// with exponential backoff, failover from a primary to a secondary endpoint,
// and a last-known-good cache that masks total failure.
//
// Reads never return an error to the caller. A Result carries the value and
// the Source it came from; callers treat SourceDefault as "unknown".
package reader

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
	"github.com/R3E-Network/miniapp-games/pkg/timeutil"
)

// Source identifies where a read value came from.
type Source string

const (
	SourceLive    Source = "live"
	SourceCached  Source = "cached"
	SourceDefault Source = "default"
)

// Config controls retry and failover behaviour.
type Config struct {
	// MaxAttempts per endpoint.
	MaxAttempts int
	// BaseBackoff is the delay after the first failed attempt; it doubles
	// after each further failure.
	BaseBackoff time.Duration
	// AttemptTimeout bounds a single RPC call. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	Breaker        BreakerConfig
}

// DefaultConfig returns the default read policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseBackoff:    250 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Query is a pure read of ledger state.
type Query[T any] struct {
	// Key identifies the query for caching. An empty key disables caching.
	Key string
	// Default is returned when the read fails and nothing is cached.
	Default T
	Fetch   func(ctx context.Context, b chain.Backend) (T, error)
}

// Result is the outcome of a read.
type Result[T any] struct {
	Value  T
	Source Source
	// Err is the last endpoint error when Source is not live.
	Err error
}

// Known reports whether the value reflects ledger state at some point.
func (r Result[T]) Known() bool {
	return r.Source != SourceDefault
}

type endpoint struct {
	name    string
	backend chain.Backend
	breaker *Breaker
}

// Client executes reads against one or two ledger endpoints.
type Client struct {
	endpoints []*endpoint
	cfg       Config
	cache     *Cache
	log       *logger.Logger
}

// New creates a read client. secondary may be nil.
func New(cfg Config, primary, secondary chain.Backend, log *logger.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	log = logger.OrDefault(log, "reader")

	c := &Client{
		cfg:   cfg,
		cache: NewCache(),
		log:   log,
	}
	c.endpoints = append(c.endpoints, c.newEndpoint("primary", primary))
	if secondary != nil {
		c.endpoints = append(c.endpoints, c.newEndpoint("secondary", secondary))
	}
	return c
}

func (c *Client) newEndpoint(name string, b chain.Backend) *endpoint {
	bc := c.cfg.Breaker
	userHook := bc.OnStateChange
	bc.OnStateChange = func(from, to CircuitState) {
		c.log.WithField("endpoint", name).Warnf("circuit %s -> %s", from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	return &endpoint{name: name, backend: b, breaker: NewBreaker(bc)}
}

// Cache returns the client's last-known-good cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Primary returns the primary backend.
func (c *Client) Primary() chain.Backend {
	return c.endpoints[0].backend
}

// Read executes q with retries and failover, falling back to the cached value
// for q.Key and then to q.Default.
func Read[T any](ctx context.Context, c *Client, q Query[T]) Result[T] {
	value, err := c.do(ctx, q.Key, func(ctx context.Context, b chain.Backend) (any, error) {
		return q.Fetch(ctx, b)
	})
	if err == nil {
		v, _ := value.(T)
		if q.Key != "" {
			c.cache.Put(q.Key, v)
		}
		metrics.RecordRead(string(SourceLive))
		return Result[T]{Value: v, Source: SourceLive}
	}

	if q.Key != "" {
		if e, ok := c.cache.Get(q.Key); ok {
			if v, ok := e.Value.(T); ok {
				c.log.WithError(err).WithField("key", q.Key).Warn("read failed, serving cached value")
				metrics.RecordRead(string(SourceCached))
				return Result[T]{Value: v, Source: SourceCached, Err: err}
			}
		}
	}

	c.log.WithError(err).WithField("key", q.Key).Warn("read failed, serving default")
	metrics.RecordRead(string(SourceDefault))
	return Result[T]{Value: q.Default, Source: SourceDefault, Err: err}
}

type fetchFunc func(ctx context.Context, b chain.Backend) (any, error)

// do runs fetch against each endpoint in turn. A fatal error stops
// immediately; an exhausted or skipped endpoint fails over to the next.
func (c *Client) do(ctx context.Context, key string, fetch fetchFunc) (any, error) {
	var lastErr error
	for i, ep := range c.endpoints {
		if i > 0 {
			metrics.RecordFailover()
			c.log.WithFields(map[string]any{"key": key, "endpoint": ep.name}).Info("failing over")
		}

		value, err := c.attempt(ctx, ep, key, fetch)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if !errors.Is(err, ErrCircuitOpen) && chain.Classify(err) == chain.Fatal {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, ep *endpoint, key string, fetch fetchFunc) (any, error) {
	if err := ep.breaker.Allow(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordReadRetry(ep.name)
			if err := timeutil.Sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		value, err := c.call(ctx, ep, fetch)
		if err == nil {
			ep.breaker.RecordSuccess()
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if chain.Classify(err) == chain.Fatal {
			c.log.WithError(err).WithFields(map[string]any{"key": key, "endpoint": ep.name}).Warn("fatal read error")
			return nil, err
		}
		c.log.WithError(err).WithFields(map[string]any{
			"key":      key,
			"endpoint": ep.name,
			"attempt":  attempt + 1,
		}).Debug("retryable read error")
	}

	ep.breaker.RecordFailure()
	return nil, lastErr
}

func (c *Client) call(ctx context.Context, ep *endpoint, fetch fetchFunc) (any, error) {
	if c.cfg.AttemptTimeout <= 0 {
		return fetch(ctx, ep.backend)
	}
	actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	return fetch(actx, ep.backend)
}

// backoff returns BaseBackoff * 2^n.
func (c *Client) backoff(n int) time.Duration {
	return c.cfg.BaseBackoff << uint(n)
}
