package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/game"
	"github.com/R3E-Network/miniapp-games/internal/identity"
	"github.com/R3E-Network/miniapp-games/internal/stats"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

type fakeStats struct {
	account common.Address
}

func (f *fakeStats) Games() []chain.Game { return []chain.Game{chain.GameGuess, chain.GameSlot} }

func (f *fakeStats) Stats(_ context.Context, g chain.Game, account common.Address) (stats.Stats, error) {
	if g != chain.GameSlot {
		return stats.Stats{}, fmt.Errorf("%w: %q", game.ErrUnknownGame, g)
	}
	f.account = account
	return stats.Stats{Count: 7, TotalAmount: decimal.NewFromInt(1200), Source: stats.SourceLedger}, nil
}

type fakeIdentity struct {
	err error
}

func (f *fakeIdentity) Lookup(_ context.Context, address string) ([]identity.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []identity.Profile{{FID: 3, Username: "alice"}}, nil
}

func (f *fakeIdentity) LookupMany(_ context.Context, addresses []string) (map[string][]identity.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]identity.Profile, len(addresses))
	for _, a := range addresses {
		out[a] = []identity.Profile{}
	}
	return out, nil
}

func newTestServer(st *fakeStats, id *fakeIdentity) http.Handler {
	s := NewServer(Config{RateLimitRPS: 100, RateLimitBurst: 100, CORSOrigins: []string{"*"}}, st, id, logger.NewNop())
	return s.Handler()
}

func do(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestStatsRoute(t *testing.T) {
	st := &fakeStats{}
	h := newTestServer(st, &fakeIdentity{})
	account := "0x00000000000000000000000000000000000000aa"

	rec, body := do(t, h, "/api/stats/slot/"+account)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(7), data["count"])
	assert.Equal(t, "1200", data["totalAmount"])
	assert.Equal(t, "ledger", data["source"])
	assert.Equal(t, common.HexToAddress(account), st.account)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = do(t, h, "/api/stats/dice/"+account)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, h, "/api/stats/slot/not-an-address")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestGamesAndHealth(t *testing.T) {
	h := newTestServer(&fakeStats{}, &fakeIdentity{})

	rec, body := do(t, h, "/api/games")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"guess", "slot"}, body["data"])

	rec, body = do(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestIdentityRoutes(t *testing.T) {
	h := newTestServer(&fakeStats{}, &fakeIdentity{})

	rec, body := do(t, h, "/api/identity/0x00000000000000000000000000000000000000aa")
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := body["data"].([]any)
	require.Len(t, profiles, 1)
	assert.Equal(t, "alice", profiles[0].(map[string]any)["username"])

	rec, body = do(t, h, "/api/identity?addresses=0xa1,%200xa2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)

	rec, _ = do(t, h, "/api/identity?addresses=")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{identity.ErrInvalidAddress, http.StatusBadRequest},
		{identity.ErrNotConfigured, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: status 500", identity.ErrUpstream), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestServer(&fakeStats{}, &fakeIdentity{err: tt.err})
			rec, body := do(t, h, "/api/identity/0xabc")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	s := NewServer(Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, &fakeStats{}, &fakeIdentity{}, logger.NewNop())
	h := s.Handler()

	rec, _ := do(t, h, "/api/games")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, "/api/games")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = do(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
