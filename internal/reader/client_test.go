package reader

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
	"github.com/R3E-Network/miniapp-games/pkg/testutil"
)

var (
	gameAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	player    = common.HexToAddress("0x000000000000000000000000000000000000000a")
)

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Breaker:     DefaultBreakerConfig(),
	}
}

func rateLimited() error {
	return rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}
}

func potCall(t *testing.T) []byte {
	t.Helper()
	data, err := chain.PackPot()
	require.NoError(t, err)
	return data
}

func TestRead_FailsOverToSecondaryAfterRateLimits(t *testing.T) {
	primary := testutil.NewFakeBackend(100)
	secondary := testutil.NewFakeBackend(100)
	primary.FailNext(testutil.MethodCall, rateLimited(), rateLimited(), rateLimited())
	secondary.SetUint256Call(gameAddr, potCall(t), big.NewInt(42))

	c := New(testConfig(), primary, secondary, logger.NewNop())
	res := c.Pot(context.Background(), gameAddr)

	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, int64(42), res.Value.Int64())
	assert.Equal(t, 3, primary.Count(testutil.MethodCall))
	assert.Equal(t, 1, secondary.Count(testutil.MethodCall))

	entry, ok := c.Cache().Get(PotQuery(gameAddr).Key)
	require.True(t, ok)
	assert.Equal(t, int64(42), entry.Value.(*big.Int).Int64())
}

func TestRead_ServesStaleOnFailure(t *testing.T) {
	primary := testutil.NewFakeBackend(100)
	primary.SetUint256Call(gameAddr, potCall(t), big.NewInt(7))

	c := New(testConfig(), primary, nil, logger.NewNop())
	first := c.Pot(context.Background(), gameAddr)
	require.Equal(t, SourceLive, first.Source)

	primary.FailAlways(testutil.MethodCall, rateLimited())
	for i := 0; i < 3; i++ {
		res := c.Pot(context.Background(), gameAddr)
		assert.Equal(t, SourceCached, res.Source, "failure %d", i+1)
		assert.Equal(t, int64(7), res.Value.Int64(), "failure %d", i+1)
		assert.Error(t, res.Err)
	}
}

func TestRead_CachedValueIsolatedFromCallers(t *testing.T) {
	primary := testutil.NewFakeBackend(100)
	primary.SetUint256Call(gameAddr, potCall(t), big.NewInt(7))

	c := New(testConfig(), primary, nil, logger.NewNop())
	first := c.Pot(context.Background(), gameAddr)
	require.Equal(t, SourceLive, first.Source)
	first.Value.SetInt64(1000)

	primary.FailAlways(testutil.MethodCall, rateLimited())
	stale := c.Pot(context.Background(), gameAddr)
	require.Equal(t, SourceCached, stale.Source)
	assert.Equal(t, int64(7), stale.Value.Int64())
	stale.Value.SetInt64(2000)

	entry, ok := c.Cache().Get(PotQuery(gameAddr).Key)
	require.True(t, ok)
	assert.Equal(t, int64(7), entry.Value.(*big.Int).Int64())
}

func TestRead_DefaultWithoutPriorSuccess(t *testing.T) {
	primary := testutil.NewFakeBackend(100)
	primary.FailAlways(testutil.MethodCall, rateLimited())

	c := New(testConfig(), primary, nil, logger.NewNop())
	res := c.BalanceOf(context.Background(), tokenAddr, player)

	assert.Equal(t, SourceDefault, res.Source)
	assert.False(t, res.Known())
	assert.Equal(t, 0, res.Value.Sign())
	assert.Equal(t, 3, primary.Count(testutil.MethodCall))
}

func TestRead_FatalErrorSkipsRetryAndFailover(t *testing.T) {
	primary := testutil.NewFakeBackend(100)
	secondary := testutil.NewFakeBackend(100)
	primary.FailAlways(testutil.MethodCall, errors.New("execution reverted"))
	secondary.SetBoolCall(gameAddr, mustPack(t, chain.PackPaused), true)

	c := New(testConfig(), primary, secondary, logger.NewNop())
	res := c.Paused(context.Background(), gameAddr)

	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, 1, primary.Count(testutil.MethodCall))
	assert.Equal(t, 0, secondary.Count(testutil.MethodCall))
}

func TestRead_RecoversWithinRetryBudget(t *testing.T) {
	primary := testutil.NewFakeBackend(1234)
	primary.FailNext(testutil.MethodBlockNumber, errors.New("header not found"))

	c := New(testConfig(), primary, nil, logger.NewNop())
	res := c.BlockNumber(context.Background())

	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, uint64(1234), res.Value)
	assert.Equal(t, 2, primary.Count(testutil.MethodBlockNumber))
}

func TestRead_CanceledContextStops(t *testing.T) {
	primary := testutil.NewFakeBackend(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(testConfig(), primary, nil, logger.NewNop())
	res := c.BlockNumber(ctx)

	assert.Equal(t, SourceDefault, res.Source)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRead_OpenBreakerSkipsEndpoint(t *testing.T) {
	primary := testutil.NewFakeBackend(10)
	secondary := testutil.NewFakeBackend(20)
	primary.FailAlways(testutil.MethodBlockNumber, rateLimited())

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.Breaker = BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}
	c := New(cfg, primary, secondary, logger.NewNop())

	for i := 0; i < 2; i++ {
		assert.Equal(t, uint64(20), c.BlockNumber(context.Background()).Value)
	}
	require.Equal(t, 2, primary.Count(testutil.MethodBlockNumber))

	// Breaker is open: the primary is not contacted.
	assert.Equal(t, uint64(20), c.BlockNumber(context.Background()).Value)
	assert.Equal(t, 2, primary.Count(testutil.MethodBlockNumber))
}

func TestLogsQueryKey(t *testing.T) {
	open := LogsQuery(ethereum.FilterQuery{FromBlock: big.NewInt(1)})
	assert.Empty(t, open.Key)

	ranged := LogsQuery(ethereum.FilterQuery{
		FromBlock: big.NewInt(1),
		ToBlock:   big.NewInt(9),
		Addresses: []common.Address{gameAddr},
	})
	assert.Contains(t, ranged.Key, ":1-9")
}

func TestBackoffDoubles(t *testing.T) {
	c := New(Config{BaseBackoff: 100 * time.Millisecond}, testutil.NewFakeBackend(0), nil, logger.NewNop())
	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 400*time.Millisecond, c.backoff(2))
}

func mustPack(t *testing.T, fn func() ([]byte, error)) []byte {
	t.Helper()
	data, err := fn()
	require.NoError(t, err)
	return data
}
