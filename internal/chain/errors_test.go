package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

type codeError struct {
	code int
	msg  string
}

func (e *codeError) Error() string  { return e.msg }
func (e *codeError) ErrorCode() int { return e.code }

type revertError struct{ data any }

func (e *revertError) Error() string  { return "execution reverted" }
func (e *revertError) ErrorCode() int { return 3 }
func (e *revertError) ErrorData() any { return e.data }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Fatal},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, Retryable},
		{"http 503", rpc.HTTPError{StatusCode: 503}, Retryable},
		{"http 400", rpc.HTTPError{StatusCode: 400}, Fatal},
		{"wrapped http 502", fmt.Errorf("call: %w", rpc.HTTPError{StatusCode: 502}), Retryable},
		{"invalid params", &codeError{code: -32602, msg: "invalid params"}, Fatal},
		{"limit exceeded code", &codeError{code: -32005, msg: "request limit reached"}, Retryable},
		{"revert with data", &revertError{data: "0x08c379a0"}, Fatal},
		{"header not found", errors.New("header not found"), Retryable},
		{"rate limit message", errors.New("Your app has exceeded its compute units per second capacity: rate limit"), Retryable},
		{"execution reverted message", errors.New("execution reverted: paused"), Fatal},
		{"call exception noise", errors.New("missing revert data in call exception"), Retryable},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"canceled", context.Canceled, Fatal},
		{"unknown", errors.New("something odd"), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
