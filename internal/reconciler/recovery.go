package reconciler

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/metrics"
	"github.com/R3E-Network/miniapp-games/internal/session"
)

type tracked struct {
	account common.Address
	req     *session.Request
	vrfID   *big.Int
	// from is the first block searched; the receipt block once known.
	from uint64
}

// RecoveryLedger remembers abandoned requests whose result may still land
// on the ledger. It outlives sessions so a reconnect can find late results.
type RecoveryLedger struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*tracked
}

func NewRecoveryLedger() *RecoveryLedger {
	return &RecoveryLedger{entries: make(map[uuid.UUID]*tracked)}
}

// Track records req for account. Requests that were never sent are ignored.
func (l *RecoveryLedger) Track(account common.Address, req *session.Request) {
	snap := req.Snapshot()
	if snap.TxHash == (common.Hash{}) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[req.ID] = &tracked{
		account: account,
		req:     req,
		vrfID:   snap.VRFRequestID,
		from:    snap.SubmissionBlock,
	}
}

// Pending returns the tracked requests for account.
func (l *RecoveryLedger) Pending(account common.Address) []*session.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*session.Request
	for _, e := range l.entries {
		if e.account == account {
			out = append(out, e.req)
		}
	}
	return out
}

// Forget stops tracking a request.
func (l *RecoveryLedger) Forget(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

func (l *RecoveryLedger) entriesFor(account common.Address) []tracked {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []tracked
	for _, e := range l.entries {
		if e.account == account {
			out = append(out, *e)
		}
	}
	return out
}

func (l *RecoveryLedger) resolveRequest(id uuid.UUID, vrfID *big.Int, from uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		e.vrfID = vrfID
		e.from = from
	}
}

// Recover checks every abandoned request of the session's account for a
// result that landed after it was given up. Results found are published with
// Late set and returned; they do not change session totals. Requests whose
// transaction reverted are dropped; the rest stay tracked.
func (r *Reconciler) Recover(ctx context.Context, sess *session.Session) []*session.Outcome {
	var late []*session.Outcome
	for _, e := range r.recovery.entriesFor(sess.Account) {
		if ctx.Err() != nil {
			break
		}
		entry := r.log.WithField("request", e.req.ID.String())

		if e.vrfID == nil {
			vrfID, from, keep := r.lookupRequest(ctx, e)
			if !keep {
				entry.Info("abandoned request reverted, no longer tracked")
				r.recovery.Forget(e.req.ID)
				continue
			}
			if from == 0 {
				continue
			}
			e.vrfID, e.from = vrfID, from
			r.recovery.resolveRequest(e.req.ID, vrfID, from)
		}

		f := r.find(ctx, e.req.Game, e.req.Contract, e.account, e.from, e.vrfID)
		if f == nil {
			continue
		}
		out := session.OutcomeFrom(e.req.ID, f)
		out.Late = true
		r.recovery.Forget(e.req.ID)
		metrics.RecordOutcome(string(e.req.Game), "late", 0)
		entry.WithField("block", f.BlockNumber).Info("late result recovered")
		r.publish(out)
		late = append(late, out)
	}
	return late
}

// lookupRequest fetches the receipt of a request abandoned before its
// inclusion was seen. It returns the VRF request ID (possibly nil) and the
// receipt block, or from == 0 while the receipt is still unavailable. keep is
// false when the transaction reverted.
func (r *Reconciler) lookupRequest(ctx context.Context, e tracked) (vrfID *big.Int, from uint64, keep bool) {
	if r.receipts == nil {
		return nil, 0, true
	}
	rcpt, err := r.receipts.TransactionReceipt(ctx, e.req.TxHash())
	if err != nil || rcpt == nil {
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			r.log.WithError(err).Debug("receipt lookup failed during recovery")
		}
		return nil, 0, true
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, 0, false
	}
	if rcpt.BlockNumber != nil {
		from = rcpt.BlockNumber.Uint64()
	}
	if from == 0 {
		from = e.from
	}
	return chain.FindRequestID(e.req.Game, rcpt.Logs, e.req.Contract, e.account), from, true
}
