package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

const (
	addrA = "0x000000000000000000000000000000000000000A"
	addrB = "0x000000000000000000000000000000000000000b"
	addrC = "0x000000000000000000000000000000000000000c"
)

type upstream struct {
	*httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	batches [][]string
}

func (u *upstream) seen() [][]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]string(nil), u.batches...)
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, addrs []string)) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		if r.URL.Path != bulkByAddressPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		addrs := strings.Split(r.URL.Query().Get("addresses"), ",")
		u.mu.Lock()
		u.batches = append(u.batches, addrs)
		u.mu.Unlock()
		handler(w, addrs)
	}))
	t.Cleanup(u.Close)
	return u
}

func newClient(u *upstream, batch int) *Client {
	return New(Config{BaseURL: u.URL, APIKey: "test-key", BatchSize: batch}, u.Client(), nil, logger.NewNop())
}

func TestLookupMany_ParsesProfilesAndCaches(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, _ []string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"0x000000000000000000000000000000000000000a": [
				{"fid": 3, "username": "dwr", "display_name": "Dan", "pfp_url": "https://x/p.png", "follower_count": 10, "power_badge": true},
				{"fid": 9, "username": "alt"}
			]
		}`))
	})
	c := newClient(u, 0)

	got, err := c.LookupMany(context.Background(), []string{addrA, addrB, addrA})
	require.NoError(t, err)

	a := got[strings.ToLower(addrA)]
	require.Len(t, a, 2)
	assert.Equal(t, int64(3), a[0].FID)
	assert.Equal(t, "Dan", a[0].DisplayName)
	assert.True(t, a[0].PowerBadge)
	assert.Equal(t, "alt", a[1].Username)

	b, ok := got[addrB]
	assert.True(t, ok)
	assert.Empty(t, b)
	assert.NotNil(t, b)

	// Both addresses, including the empty one, are now cached.
	_, err = c.LookupMany(context.Background(), []string{addrB, addrA})
	require.NoError(t, err)
	assert.Equal(t, int32(1), u.calls.Load())
	assert.Len(t, u.seen()[0], 2)
}

func TestLookupMany_FetchesOnlyMissesInBatches(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, _ []string) {
		_, _ = w.Write([]byte(`{}`))
	})
	c := newClient(u, 2)

	_, err := c.Lookup(context.Background(), addrA)
	require.NoError(t, err)

	_, err = c.LookupMany(context.Background(), []string{addrA, addrB, addrC, "0x000000000000000000000000000000000000000d"})
	require.NoError(t, err)

	batches := u.seen()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{strings.ToLower(addrA)}, batches[0])
	assert.Equal(t, []string{addrB, addrC}, batches[1])
	assert.Len(t, batches[2], 1)
}

func TestLookup_NotFoundIsEmpty(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, _ []string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"NotFound","message":"No users found"}`))
	})
	profiles, err := newClient(u, 0).Lookup(context.Background(), addrB)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestLookup_UpstreamError(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, _ []string) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	})
	c := newClient(u, 0)

	_, err := c.Lookup(context.Background(), addrB)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorContains(t, err, "invalid api key")

	// Failures are not cached.
	_, _ = c.Lookup(context.Background(), addrB)
	assert.Equal(t, int32(2), u.calls.Load())
}

func TestLookup_RejectsBadInput(t *testing.T) {
	c := New(Config{APIKey: "k"}, nil, nil, logger.NewNop())
	_, err := c.Lookup(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = New(Config{}, nil, nil, logger.NewNop()).Lookup(context.Background(), addrB)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMemoryCache_Expires(t *testing.T) {
	c := NewMemoryCache(10, 20*time.Millisecond)
	c.Set(context.Background(), "a", []Profile{{FID: 1}})

	p, ok := c.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, int64(1), p[0].FID)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get(context.Background(), "a")
	assert.False(t, ok)
}

func TestTiered_BackfillsLocal(t *testing.T) {
	local := NewMemoryCache(10, time.Minute)
	shared := NewMemoryCache(10, time.Minute)
	shared.Set(context.Background(), "a", []Profile{{FID: 7}})

	tc := Tiered{Local: local, Shared: shared}
	p, ok := tc.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, int64(7), p[0].FID)
	assert.Equal(t, 1, local.Len())

	tc.Set(context.Background(), "b", nil)
	_, ok = shared.Get(context.Background(), "b")
	assert.True(t, ok)
}

func TestRedisCache_UnreachableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCacheWithClient(client, time.Minute)
	defer c.Close()

	c.Set(context.Background(), "a", []Profile{{FID: 1}})
	_, ok := c.Get(context.Background(), "a")
	assert.False(t, ok)
	assert.Error(t, c.Ping(context.Background()))

	_, err := NewRedisCache("not a url", time.Minute)
	assert.Error(t, err)
}
