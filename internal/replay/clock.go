package replay

import (
	"context"
	"time"
)

// Clock abstracts wall time so schedules can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep suspends for d or until ctx is done. Non-positive d returns at once.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
