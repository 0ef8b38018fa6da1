// Package pacing provides the clock and jitter primitives used to time
// human-like chat behavior. Production code runs on the wall clock; tests
// drive the same code with a VirtualClock.
package pacing

import (
	"context"
	"time"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already
	// ran or was stopped.
	Stop() bool
}

// Clock abstracts time for everything that waits or schedules.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
