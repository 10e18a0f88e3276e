// Package timeutil holds small time helpers shared by the retry loops.
package timeutil

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, returning ctx.Err() in the
// latter case. A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
