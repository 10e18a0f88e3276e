package game

import (
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// Feed is the outcome channel. Publishing never blocks the reconciler: when
// the buffer is full the outcome is dropped and logged.
type Feed struct {
	ch  chan *session.Outcome
	log *logger.Logger
}

func NewFeed(buffer int, log *logger.Logger) *Feed {
	return &Feed{ch: make(chan *session.Outcome, buffer), log: logger.OrDefault(log, "feed")}
}

func (f *Feed) Publish(out *session.Outcome) {
	select {
	case f.ch <- out:
	default:
		f.log.WithField("request", out.RequestID.String()).Warn("outcome feed full, dropping")
	}
}

// Outcomes delivers published outcomes in order.
func (f *Feed) Outcomes() <-chan *session.Outcome {
	return f.ch
}
