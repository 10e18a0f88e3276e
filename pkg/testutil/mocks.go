// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/miniapp-games/internal/chain"
)

// Method names accepted by FakeBackend.FailNext and FakeBackend.Count.
const (
	MethodCall        = "CallContract"
	MethodFilterLogs  = "FilterLogs"
	MethodBlockNumber = "BlockNumber"
	MethodSend        = "SendTransaction"
	MethodReceipt     = "TransactionReceipt"
	MethodNonce       = "PendingNonceAt"
	MethodGasPrice    = "SuggestGasPrice"
)

// =============================================================================
// Fake ledger
// =============================================================================

// FakeBackend is an in-memory ledger endpoint with scripted state and
// per-method error injection. It satisfies chain.TxBackend.
type FakeBackend struct {
	mu sync.Mutex

	head     uint64
	logs     []types.Log
	calls    map[string][]byte
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	nonce    uint64

	queued map[string][]error
	always map[string]error
	counts map[string]int

	onFilterLogs func(call int)
}

// NewFakeBackend creates a fake ledger whose head is at block head.
func NewFakeBackend(head uint64) *FakeBackend {
	return &FakeBackend{
		head:     head,
		calls:    make(map[string][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
		queued:   make(map[string][]error),
		always:   make(map[string]error),
		counts:   make(map[string]int),
	}
}

// SetHead moves the chain head.
func (f *FakeBackend) SetHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

// Head returns the current chain head.
func (f *FakeBackend) Head() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

// AddLog appends an event log. Logs above the head are not visible until the
// head reaches them.
func (f *FakeBackend) AddLog(lg types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, lg)
}

// SetCall scripts the return data for a call of data against to.
func (f *FakeBackend) SetCall(to common.Address, data, result []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[callKey(to, data)] = result
}

// SetUint256Call scripts a call returning a single uint256.
func (f *FakeBackend) SetUint256Call(to common.Address, data []byte, v *big.Int) {
	f.SetCall(to, data, common.LeftPadBytes(v.Bytes(), 32))
}

// SetBoolCall scripts a call returning a single bool.
func (f *FakeBackend) SetBoolCall(to common.Address, data []byte, v bool) {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	f.SetCall(to, data, out)
}

// SetReceipt registers the receipt returned for hash.
func (f *FakeBackend) SetReceipt(hash common.Hash, r *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = r
}

// FailNext queues errors returned by the next calls to method, in order.
func (f *FakeBackend) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[method] = append(f.queued[method], errs...)
}

// FailAlways makes every call to method return err. A nil err clears it.
func (f *FakeBackend) FailAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.always, method)
		return
	}
	f.always[method] = err
}

// OnFilterLogs registers a hook run before each FilterLogs call is served.
// The hook receives the 1-based call number and may mutate the backend.
func (f *FakeBackend) OnFilterLogs(fn func(call int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFilterLogs = fn
}

// Count returns how many times method was invoked.
func (f *FakeBackend) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[method]
}

// TotalCalls returns the number of invocations across all methods.
func (f *FakeBackend) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.counts {
		total += n
	}
	return total
}

// Sent returns the transactions accepted by SendTransaction.
func (f *FakeBackend) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Transaction, len(f.sent))
	copy(out, f.sent)
	return out
}

// enter records an invocation and returns the injected error, if any.
// Caller must hold f.mu.
func (f *FakeBackend) enter(method string) error {
	f.counts[method]++
	if q := f.queued[method]; len(q) > 0 {
		f.queued[method] = q[1:]
		return q[0]
	}
	return f.always[method]
}

func (f *FakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCall); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, fmt.Errorf("invalid argument 0: missing to")
	}
	out, ok := f.calls[callKey(*msg.To, msg.Data)]
	if !ok {
		return nil, fmt.Errorf("execution reverted: no scripted result")
	}
	return out, nil
}

func (f *FakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	hook := f.onFilterLogs
	call := f.counts[MethodFilterLogs] + 1
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodFilterLogs); err != nil {
		return nil, err
	}

	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := f.head
	if q.ToBlock != nil && q.ToBlock.Uint64() < to {
		to = q.ToBlock.Uint64()
	}

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, lg.Address) {
			continue
		}
		if !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (f *FakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodBlockNumber); err != nil {
		return 0, err
	}
	return f.head, nil
}

func (f *FakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodSend); err != nil {
		return err
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *FakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodReceipt); err != nil {
		return nil, err
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *FakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodNonce); err != nil {
		return 0, err
	}
	return f.nonce, nil
}

func (f *FakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGasPrice); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000_000), nil
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// matchTopics applies eth_getLogs topic semantics: position-wise, an empty set
// matches anything, otherwise any listed hash must match.
func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, set := range filter {
		if len(set) == 0 {
			continue
		}
		found := false
		for _, h := range set {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// Fake wallet
// =============================================================================

// SentAction is one transaction recorded by FakeWallet.
type SentAction struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
	Hash     common.Hash
}

// FakeWallet signs nothing; it records actions and registers a receipt on
// the backend so a receipt waiter can find it.
type FakeWallet struct {
	mu sync.Mutex

	From    common.Address
	Backend *FakeBackend

	// ReceiptStatus is the status of registered receipts (default success).
	ReceiptStatus *uint64
	// ReceiptBlock is the inclusion block; zero means the backend head.
	ReceiptBlock uint64
	// NoReceipt leaves the transaction unmined.
	NoReceipt bool
	// RequestGame, when set, adds that game's randomness request event to
	// each receipt. The request ID is the 1-based send sequence.
	RequestGame chain.Game
	// Err, when set, is returned from SendTransaction before anything is
	// recorded.
	Err error
	// SendErr, when set, is returned together with the hash after the action
	// was recorded, as when a broadcast reaches the node but its reply is lost.
	SendErr error

	sent []SentAction
}

// NewFakeWallet creates a wallet for from that mines into backend.
func NewFakeWallet(from common.Address, backend *FakeBackend) *FakeWallet {
	return &FakeWallet{From: from, Backend: backend}
}

func (w *FakeWallet) Address() common.Address { return w.From }

func (w *FakeWallet) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return common.Hash{}, w.Err
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(len(w.sent)))
	hash := crypto.Keccak256Hash(w.From.Bytes(), to.Bytes(), data, seq[:])
	w.sent = append(w.sent, SentAction{To: to, Data: data, GasLimit: gasLimit, Hash: hash})

	if w.Backend != nil && !w.NoReceipt {
		status := types.ReceiptStatusSuccessful
		if w.ReceiptStatus != nil {
			status = *w.ReceiptStatus
		}
		block := w.ReceiptBlock
		if block == 0 {
			block = w.Backend.Head()
		}
		rcpt := &types.Receipt{
			Status:      status,
			TxHash:      hash,
			BlockNumber: new(big.Int).SetUint64(block),
		}
		if w.RequestGame.Valid() && status == types.ReceiptStatusSuccessful {
			rcpt.Logs = []*types.Log{{
				Address: to,
				Topics: []common.Hash{
					chain.RequestTopic(w.RequestGame),
					chain.PlayerTopic(w.From),
					chain.RequestIDTopic(big.NewInt(int64(len(w.sent)))),
				},
				BlockNumber: block,
				TxHash:      hash,
			}}
		}
		w.Backend.SetReceipt(hash, rcpt)
	}
	if w.SendErr != nil {
		return hash, w.SendErr
	}
	return hash, nil
}

// Sent returns the recorded actions.
func (w *FakeWallet) Sent() []SentAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]SentAction, len(w.sent))
	copy(out, w.sent)
	return out
}

// Uint64 returns a pointer to v, for FakeWallet.ReceiptStatus.
func Uint64(v uint64) *uint64 { return &v }
