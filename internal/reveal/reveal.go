// Package reveal paces the presentation of a play's symbols. It is fed by
// applied outcomes and never touches request state.
package reveal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/timeutil"
)

const (
	DefaultInitialDelay = time.Second
	DefaultStagger      = 500 * time.Millisecond
)

// Reveal is one symbol shown to the player.
type Reveal struct {
	RequestID uuid.UUID
	Game      chain.Game
	Index     int
	Symbol    uint8
	// Final is set on the last symbol of an outcome.
	Final bool
	Late  bool
}

type Config struct {
	InitialDelay time.Duration
	Stagger      time.Duration
}

func DefaultConfig() Config {
	return Config{InitialDelay: DefaultInitialDelay, Stagger: DefaultStagger}
}

// Choreographer turns outcomes into timed, ordered reveals.
type Choreographer struct {
	cfg Config
}

// New creates a choreographer. Negative delays are treated as zero.
func New(cfg Config) *Choreographer {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}
	return &Choreographer{cfg: cfg}
}

// Play emits out's symbols in order: the first after InitialDelay, each
// following one Stagger later. The channel is closed after the final symbol
// or when ctx ends.
func (c *Choreographer) Play(ctx context.Context, out *session.Outcome) <-chan Reveal {
	ch := make(chan Reveal)
	go func() {
		defer close(ch)
		if out == nil {
			return
		}

		delay := c.cfg.InitialDelay
		for i, sym := range out.Symbols {
			if timeutil.Sleep(ctx, delay) != nil {
				return
			}
			r := Reveal{
				RequestID: out.RequestID,
				Game:      out.Game,
				Index:     i,
				Symbol:    sym,
				Final:     i == len(out.Symbols)-1,
				Late:      out.Late,
			}
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
			delay = c.cfg.Stagger
		}
	}()
	return ch
}

// Run plays out and calls fn for each reveal. It returns when the sequence
// completes or ctx ends.
func (c *Choreographer) Run(ctx context.Context, out *session.Outcome, fn func(Reveal)) error {
	for r := range c.Play(ctx, out) {
		fn(r)
	}
	return ctx.Err()
}
