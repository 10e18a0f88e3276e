package session

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/miniapp-games/internal/chain"
)

// Status is the lifecycle state of an outstanding request.
type Status string

const (
	StatusSubmitted           Status = "submitted"
	StatusConfirmed           Status = "confirmed"
	StatusAwaitingFulfillment Status = "awaiting_fulfillment"
	StatusFulfilled           Status = "fulfilled"
	StatusFailed              Status = "failed"
	StatusAbandoned           Status = "abandoned"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed || s == StatusAbandoned
}

// Outcome is the result applied to a session when a request is fulfilled.
type Outcome struct {
	RequestID   uuid.UUID
	Game        chain.Game
	Player      common.Address
	Won         bool
	Payout      decimal.Decimal
	Symbols     []uint8
	BlockNumber uint64
	TxHash      common.Hash
	// Late marks a result recovered after the request was abandoned.
	Late bool
}

// OutcomeFrom converts a decoded fulfillment event.
func OutcomeFrom(requestID uuid.UUID, f *chain.Fulfillment) *Outcome {
	return &Outcome{
		RequestID:   requestID,
		Game:        f.Game,
		Player:      f.Player,
		Won:         f.Won,
		Payout:      f.Payout,
		Symbols:     f.Symbols(),
		BlockNumber: f.BlockNumber,
		TxHash:      f.TxHash,
	}
}

// Request is one submitted action awaiting its asynchronous result. The
// mutable fields are only changed through the owning Session.
type Request struct {
	ID         uuid.UUID
	Game       chain.Game
	Contract   common.Address
	Generation uint64
	CreatedAt  time.Time

	mu              sync.Mutex
	txHash          common.Hash
	submissionBlock uint64
	vrfRequestID    *big.Int
	pollAttempt     int
	status          Status
	outcome         *Outcome
	confirmedAt     time.Time
}

// Snapshot is a consistent copy of a request's mutable state.
type Snapshot struct {
	ID              uuid.UUID
	Game            chain.Game
	TxHash          common.Hash
	SubmissionBlock uint64
	VRFRequestID    *big.Int
	PollAttempt     int
	Status          Status
	Outcome         *Outcome
	ConfirmedAt     time.Time
}

func (r *Request) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:              r.ID,
		Game:            r.Game,
		TxHash:          r.txHash,
		SubmissionBlock: r.submissionBlock,
		VRFRequestID:    r.vrfRequestID,
		PollAttempt:     r.pollAttempt,
		Status:          r.status,
		Outcome:         r.outcome,
		ConfirmedAt:     r.confirmedAt,
	}
}

func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Request) TxHash() common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txHash
}

func (r *Request) SubmissionBlock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submissionBlock
}

// VRFRequestID is the randomness request ID from the confirming receipt, or
// nil when the receipt did not carry one.
func (r *Request) VRFRequestID() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vrfRequestID
}

func (r *Request) PollAttempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollAttempt
}

func (r *Request) Outcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}
