package chain

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

// Class is the retry classification of a ledger error.
type Class int

const (
	// Fatal errors are never retried and never fail over.
	Fatal Class = iota
	// Retryable errors are retried with backoff and may fail over.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// JSON-RPC error codes that indicate a malformed request.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeLimitExceeded  = -32005
)

var retryableMessages = []string{
	"rate limit",
	"too many requests",
	"limit exceeded",
	"header not found",
	"unknown block",
	"backend unhealthy",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"eof",
}

var fatalMessages = []string{
	"execution reverted",
	"invalid argument",
	"invalid params",
	"abi: ",
	"insufficient funds",
	"nonce too low",
}

// Classify maps an RPC error onto Retryable or Fatal. Unrecognised errors are
// fatal so that a broken call is not hammered.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, ethereum.NotFound) {
		return Retryable
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return Retryable
		}
		return Fatal
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		// Revert data present: the contract rejected the call.
		return Fatal
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeInvalidRequest, codeMethodNotFound, codeInvalidParams:
			return Fatal
		case codeLimitExceeded:
			return Retryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMessages {
		if strings.Contains(msg, m) {
			return Fatal
		}
	}
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	// Overloaded nodes report bare call exceptions with no revert payload.
	if strings.Contains(msg, "call exception") || strings.Contains(msg, "missing revert data") {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	return Fatal
}

// IsRetryable is shorthand for Classify(err) == Retryable.
func IsRetryable(err error) bool {
	return Classify(err) == Retryable
}
