package reader

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AnchorKey scopes a historical scan.
type AnchorKey struct {
	Account  common.Address
	Contract common.Address
}

// Anchor is the last block covered by a historical scan together with the
// running totals accumulated up to it.
type Anchor struct {
	Block uint64
	Count int64
	Total decimal.Decimal
}

// AnchorStore remembers scan anchors so that later scans only cover new
// blocks. Anchors only move forward.
type AnchorStore struct {
	mu      sync.Mutex
	anchors map[AnchorKey]Anchor
}

// NewAnchorStore creates an empty store.
func NewAnchorStore() *AnchorStore {
	return &AnchorStore{anchors: make(map[AnchorKey]Anchor)}
}

// Get returns the anchor for key.
func (s *AnchorStore) Get(key AnchorKey) (Anchor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[key]
	return a, ok
}

// Advance moves the anchor for key to the end of the scanned chunk
// [from, to], adding count and total to the running totals. The chunk must
// start right after the current anchor, or the key must have no anchor yet;
// otherwise another scan got there first and Advance is a no-op returning
// the current anchor and false.
func (s *AnchorStore) Advance(key AnchorKey, from, to uint64, count int64, total decimal.Decimal) (Anchor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.anchors[key]
	if to < from || (ok && from != cur.Block+1) {
		return cur, false
	}
	next := Anchor{
		Block: to,
		Count: cur.Count + count,
		Total: cur.Total.Add(total),
	}
	s.anchors[key] = next
	return next, true
}
