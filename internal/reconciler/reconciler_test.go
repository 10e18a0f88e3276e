package reconciler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/reader"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
	"github.com/R3E-Network/miniapp-games/pkg/testutil"
)

var (
	playerA   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	playerB   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	guessAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type collector struct {
	mu  sync.Mutex
	got []*session.Outcome
}

func (c *collector) Publish(out *session.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, out)
}

func (c *collector) outcomes() []*session.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*session.Outcome(nil), c.got...)
}

type fixture struct {
	backend *testutil.FakeBackend
	pub     *collector
	rec     *Reconciler
}

func newFixture(t *testing.T, maxPolls int) *fixture {
	t.Helper()
	backend := testutil.NewFakeBackend(1000)
	rc := reader.New(reader.Config{MaxAttempts: 1}, backend, nil, logger.NewNop())
	pub := &collector{}
	rec := New(rc, backend, pub, nil, Config{PollInterval: time.Millisecond, MaxPollAttempts: maxPolls}, logger.NewNop())
	return &fixture{backend: backend, pub: pub, rec: rec}
}

func (f *fixture) addResult(t *testing.T, player common.Address, block uint64, vrfID int64, payout int64) *chain.Fulfillment {
	t.Helper()
	ful := &chain.Fulfillment{
		Game:        chain.GameGuess,
		Player:      player,
		RequestID:   big.NewInt(vrfID),
		Guess:       3,
		Result:      3,
		Won:         payout > 0,
		Payout:      decimal.NewFromInt(payout),
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
	lg, err := testutil.EncodeFulfillment(guessAddr, ful)
	require.NoError(t, err)
	f.backend.AddLog(lg)
	return ful
}

func newSession() *session.Session {
	return session.New(context.Background(), playerA, 1, logger.NewNop())
}

func confirmed(t *testing.T, sess *session.Session, block uint64, vrfID *big.Int) *session.Request {
	t.Helper()
	req, err := sess.Begin(chain.GameGuess, guessAddr)
	require.NoError(t, err)
	sess.Sent(req, common.HexToHash("0xfeed"), block-1)
	require.NoError(t, sess.Confirm(req, block, vrfID))
	return req
}

func TestAwait_ResultAfterSubmission(t *testing.T) {
	f := newFixture(t, 10)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	// Block 1002 with the result becomes visible during the first poll.
	f.backend.OnFilterLogs(func(call int) {
		if call == 1 {
			f.backend.SetHead(1002)
			f.addResult(t, playerA, 1002, 1, 500)
		}
	})

	out, err := f.rec.Await(context.Background(), sess, req)
	require.NoError(t, err)

	assert.True(t, out.Payout.Equal(decimal.NewFromInt(500)))
	assert.True(t, out.Won)
	assert.Equal(t, uint64(1002), out.BlockNumber)
	assert.Equal(t, req.ID, out.RequestID)
	assert.Equal(t, session.StatusFulfilled, req.Status())
	assert.Equal(t, 2, req.PollAttempt())
	assert.Nil(t, sess.Pending())
	assert.Equal(t, int64(1), sess.Totals().Plays)
	assert.Len(t, f.pub.outcomes(), 1)
}

func TestAwait_IgnoresEventsBeforeSubmissionAndOtherPlayers(t *testing.T) {
	f := newFixture(t, 10)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	f.addResult(t, playerA, 990, 1, 1)
	f.addResult(t, playerB, 1000, 2, 2)
	f.addResult(t, playerA, 1000, 3, 300)

	out, err := f.rec.Await(context.Background(), sess, req)
	require.NoError(t, err)
	assert.True(t, out.Payout.Equal(decimal.NewFromInt(300)))
}

func TestAwait_PicksLatestMatch(t *testing.T) {
	f := newFixture(t, 10)
	f.backend.SetHead(1010)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	f.addResult(t, playerA, 1001, 1, 10)
	f.addResult(t, playerA, 1004, 2, 40)

	out, err := f.rec.Await(context.Background(), sess, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1004), out.BlockNumber)
}

func TestAwait_MatchesVRFRequestID(t *testing.T) {
	f := newFixture(t, 10)
	f.backend.SetHead(1010)
	sess := newSession()
	req := confirmed(t, sess, 1000, big.NewInt(7))

	f.addResult(t, playerA, 1001, 7, 70)
	f.addResult(t, playerA, 1004, 8, 80)

	out, err := f.rec.Await(context.Background(), sess, req)
	require.NoError(t, err)
	assert.True(t, out.Payout.Equal(decimal.NewFromInt(70)))
}

func TestAwait_AbandonsAfterPollBudget(t *testing.T) {
	f := newFixture(t, 5)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	_, err := f.rec.Await(context.Background(), sess, req)

	assert.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.ErrorIs(t, err, session.ErrUnknownOutcome)
	assert.Equal(t, session.StatusAbandoned, req.Status())
	assert.Equal(t, 5, req.PollAttempt())
	assert.Equal(t, 5, f.backend.Count(testutil.MethodFilterLogs))
	assert.Nil(t, sess.Pending())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, f.backend.Count(testutil.MethodFilterLogs), "no polling after abandonment")
	assert.Equal(t, []*session.Request{req}, f.rec.Recovery().Pending(playerA))
}

func TestAwait_ReadFailuresCountAsAttempts(t *testing.T) {
	f := newFixture(t, 3)
	f.backend.FailAlways(testutil.MethodBlockNumber, errors.New("503 service unavailable"))
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	_, err := f.rec.Await(context.Background(), sess, req)
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.Equal(t, 3, req.PollAttempt())
	assert.Equal(t, 0, f.backend.Count(testutil.MethodFilterLogs))
}

func TestAwait_SupersededSessionDiscardsResult(t *testing.T) {
	f := newFixture(t, 10)
	mgr := session.NewManager(1, logger.NewNop())
	sess, err := mgr.Connect(context.Background(), playerA, 1)
	require.NoError(t, err)
	req := confirmed(t, sess, 1000, nil)

	f.backend.OnFilterLogs(func(call int) {
		if call == 1 {
			f.addResult(t, playerA, 1000, 1, 500)
			_, _ = mgr.Connect(context.Background(), playerB, 1)
		}
	})

	_, err = f.rec.Await(context.Background(), sess, req)

	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, session.StatusAbandoned, req.Status())
	assert.Equal(t, int64(0), sess.Totals().Plays)
	assert.Empty(t, f.pub.outcomes())
	assert.Equal(t, 1, f.backend.Count(testutil.MethodFilterLogs))
}

func TestAwait_CancelledContextTracksRequest(t *testing.T) {
	f := newFixture(t, 1000)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.rec.Await(ctx, sess, req)

	assert.ErrorIs(t, err, session.ErrUnknownOutcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, session.StatusAbandoned, req.Status())
	assert.Len(t, f.rec.Recovery().Pending(playerA), 1)
}

func TestApply_IsIdempotent(t *testing.T) {
	f := newFixture(t, 10)
	sess := newSession()
	req := confirmed(t, sess, 1000, nil)
	ful := f.addResult(t, playerA, 1001, 1, 500)

	assert.True(t, f.rec.Apply(sess, req, ful))
	assert.False(t, f.rec.Apply(sess, req, ful))
	assert.False(t, f.rec.Deliver(sess, ful))

	totals := sess.Totals()
	assert.Equal(t, int64(1), totals.Plays)
	assert.True(t, totals.Payout.Equal(decimal.NewFromInt(500)))
	assert.Len(t, f.pub.outcomes(), 1)
}

func TestDeliver_MatchesPendingRequest(t *testing.T) {
	f := newFixture(t, 10)
	sess := newSession()
	req := confirmed(t, sess, 1000, big.NewInt(4))

	other := &chain.Fulfillment{Game: chain.GameGuess, Player: playerB, RequestID: big.NewInt(4), BlockNumber: 1001}
	stale := &chain.Fulfillment{Game: chain.GameGuess, Player: playerA, RequestID: big.NewInt(4), BlockNumber: 999}
	wrongID := &chain.Fulfillment{Game: chain.GameGuess, Player: playerA, RequestID: big.NewInt(5), BlockNumber: 1001}
	slot := &chain.Fulfillment{Game: chain.GameSlot, Player: playerA, RequestID: big.NewInt(4), BlockNumber: 1001}
	match := &chain.Fulfillment{Game: chain.GameGuess, Player: playerA, RequestID: big.NewInt(4), BlockNumber: 1001, Payout: decimal.NewFromInt(9)}

	for _, ful := range []*chain.Fulfillment{nil, other, stale, wrongID, slot} {
		assert.False(t, f.rec.Deliver(sess, ful))
	}
	assert.Equal(t, session.StatusConfirmed, req.Status())

	assert.True(t, f.rec.Deliver(sess, match))
	assert.Equal(t, session.StatusFulfilled, req.Status())
	assert.False(t, f.rec.Deliver(sess, match))
}

func TestRecover_ReportsLateResult(t *testing.T) {
	f := newFixture(t, 2)
	sess := newSession()
	req := confirmed(t, sess, 1000, big.NewInt(7))

	_, err := f.rec.Await(context.Background(), sess, req)
	require.ErrorIs(t, err, ErrOutcomeUnknown)

	f.backend.SetHead(1010)
	f.addResult(t, playerA, 1005, 7, 250)
	f.addResult(t, playerA, 1006, 8, 999)

	late := f.rec.Recover(context.Background(), sess)
	require.Len(t, late, 1)
	assert.True(t, late[0].Late)
	assert.Equal(t, req.ID, late[0].RequestID)
	assert.Equal(t, uint64(1005), late[0].BlockNumber)
	assert.True(t, late[0].Payout.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(0), sess.Totals().Plays)
	assert.Equal(t, late, f.pub.outcomes())

	assert.Empty(t, f.rec.Recovery().Pending(playerA))
	assert.Empty(t, f.rec.Recover(context.Background(), sess))
}

func TestRecover_UsesReceiptForUnconfirmedRequest(t *testing.T) {
	f := newFixture(t, 2)
	sess := newSession()
	req, err := sess.Begin(chain.GameGuess, guessAddr)
	require.NoError(t, err)
	hash := common.HexToHash("0xabcd")
	sess.Sent(req, hash, 998)
	sess.Abandon(req)
	f.rec.Recovery().Track(playerA, req)

	// Not mined yet: stays tracked.
	assert.Empty(t, f.rec.Recover(context.Background(), sess))
	assert.Len(t, f.rec.Recovery().Pending(playerA), 1)

	f.backend.SetHead(1010)
	f.backend.SetReceipt(hash, &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(1003),
		Logs: []*types.Log{{
			Address: guessAddr,
			Topics: []common.Hash{
				chain.RequestTopic(chain.GameGuess),
				chain.PlayerTopic(playerA),
				chain.RequestIDTopic(big.NewInt(9)),
			},
		}},
	})
	f.addResult(t, playerA, 1001, 3, 1)
	f.addResult(t, playerA, 1004, 9, 90)

	late := f.rec.Recover(context.Background(), sess)
	require.Len(t, late, 1)
	assert.Equal(t, uint64(1004), late[0].BlockNumber)
}

func TestRecover_DropsRevertedRequest(t *testing.T) {
	f := newFixture(t, 2)
	sess := newSession()
	req, err := sess.Begin(chain.GameGuess, guessAddr)
	require.NoError(t, err)
	hash := common.HexToHash("0xbeef")
	sess.Sent(req, hash, 998)
	sess.Abandon(req)
	f.rec.Recovery().Track(playerA, req)

	f.backend.SetReceipt(hash, &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(999)})

	assert.Empty(t, f.rec.Recover(context.Background(), sess))
	assert.Empty(t, f.rec.Recovery().Pending(playerA))
}

func TestRecoveryLedger_IgnoresUnsentRequests(t *testing.T) {
	sess := newSession()
	req, err := sess.Begin(chain.GameGuess, guessAddr)
	require.NoError(t, err)

	l := NewRecoveryLedger()
	l.Track(playerA, req)
	assert.Empty(t, l.Pending(playerA))
}
