// Package identity resolves wallet addresses to social profiles through the
// Neynar bulk-by-address endpoint, with a short-lived cache in front.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNotConfigured  = errors.New("identity api key not configured")
	ErrUpstream       = errors.New("identity upstream error")
)

const (
	DefaultBaseURL   = "https://api.neynar.com"
	DefaultTTL       = 5 * time.Minute
	DefaultBatchSize = 350
	DefaultTimeout   = 10 * time.Second

	bulkByAddressPath = "/v2/farcaster/user/bulk-by-address"
	maxBodyBytes      = 4 << 20
)

// Profile is the part of a social profile the mini-apps display.
type Profile struct {
	FID           int64  `json:"fid"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	PfpURL        string `json:"pfp_url"`
	FollowerCount int64  `json:"follower_count"`
	PowerBadge    bool   `json:"power_badge"`
}

type Config struct {
	BaseURL   string
	APIKey    string
	TTL       time.Duration
	BatchSize int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client looks up profiles. Safe for concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	cache Cache
	log   *logger.Logger
}

// New creates a client. A nil cache gets an in-process cache with the
// configured TTL; a nil httpClient gets one with the configured timeout.
func New(cfg Config, httpClient *http.Client, cache Cache, log *logger.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheSize, cfg.TTL)
	}
	return &Client{
		cfg:   cfg,
		http:  httpClient,
		cache: cache,
		log:   logger.OrDefault(log, "identity"),
	}
}

// Lookup returns the profiles verified for address. An address without
// profiles yields an empty list.
func (c *Client) Lookup(ctx context.Context, address string) ([]Profile, error) {
	out, err := c.LookupMany(ctx, []string{address})
	if err != nil {
		return nil, err
	}
	return out[normalize(address)], nil
}

// LookupMany resolves several addresses, fetching only cache misses, in
// batches of BatchSize. Keys of the result are lowercase addresses.
func (c *Client) LookupMany(ctx context.Context, addresses []string) (map[string][]Profile, error) {
	out := make(map[string][]Profile, len(addresses))
	var misses []string
	seen := make(map[string]bool, len(addresses))

	for _, raw := range addresses {
		if !common.IsHexAddress(strings.TrimSpace(raw)) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		addr := normalize(raw)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if p, ok := c.cache.Get(ctx, addr); ok {
			out[addr] = p
			continue
		}
		misses = append(misses, addr)
	}
	metrics.RecordIdentityLookups("hit", len(out))
	if len(misses) == 0 {
		return out, nil
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	for start := 0; start < len(misses); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(misses))
		batch := misses[start:end]

		found, err := c.fetch(ctx, batch)
		if err != nil {
			metrics.RecordIdentityLookups("error", len(batch))
			return nil, err
		}
		metrics.RecordIdentityLookups("miss", len(batch))
		for _, addr := range batch {
			profiles := found[addr]
			if profiles == nil {
				profiles = []Profile{}
			}
			c.cache.Set(ctx, addr, profiles)
			out[addr] = profiles
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, batch []string) (map[string][]Profile, error) {
	u := c.cfg.BaseURL + bulkByAddressPath + "?addresses=" + url.QueryEscape(strings.Join(batch, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Returned when none of the addresses has a profile.
		return map[string][]Profile{}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := gjson.GetBytes(body, "message").String()
		c.log.WithFields(map[string]any{"status": resp.StatusCode, "message": msg}).Warn("identity lookup failed")
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed response", ErrUpstream)
	}
	return parseBulk(body), nil
}

// parseBulk reads {"0xaddr": [user, ...], ...}.
func parseBulk(body []byte) map[string][]Profile {
	out := make(map[string][]Profile)
	gjson.ParseBytes(body).ForEach(func(key, users gjson.Result) bool {
		if !users.IsArray() {
			return true
		}
		addr := normalize(key.String())
		for _, u := range users.Array() {
			out[addr] = append(out[addr], Profile{
				FID:           u.Get("fid").Int(),
				Username:      u.Get("username").String(),
				DisplayName:   u.Get("display_name").String(),
				PfpURL:        u.Get("pfp_url").String(),
				FollowerCount: u.Get("follower_count").Int(),
				PowerBadge:    u.Get("power_badge").Bool(),
			})
		}
		return true
	})
	return out
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
