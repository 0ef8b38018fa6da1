package pacing

import (
	"context"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestVirtualClockFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	c := NewVirtualClock(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	c.Advance(3 * time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected firing order: %v", order)
	}
	if got := c.Now().Sub(epoch); got != 3*time.Second {
		t.Fatalf("expected clock at +3s, got +%s", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", c.Pending())
	}
}

func TestVirtualClockStop(t *testing.T) {
	t.Parallel()

	c := NewVirtualClock(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to report true for a pending timer")
	}
	if timer.Stop() {
		t.Fatal("expected second Stop to report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestVirtualClockSleepFiresDueTimers(t *testing.T) {
	t.Parallel()

	c := NewVirtualClock(epoch)
	var at time.Duration
	c.AfterFunc(500*time.Millisecond, func() { at = c.Now().Sub(epoch) })

	if err := c.Sleep(context.Background(), time.Second); err != nil {
		t.Fatalf("Sleep failed: %v", err)
	}
	if at != 500*time.Millisecond {
		t.Fatalf("timer observed clock at %s, want 500ms", at)
	}
	if sleeps := c.Sleeps(); len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Fatalf("unexpected recorded sleeps: %v", sleeps)
	}
}

func TestVirtualClockNestedSchedule(t *testing.T) {
	t.Parallel()

	c := NewVirtualClock(epoch)
	fired := 0
	c.AfterFunc(time.Second, func() {
		fired++
		c.AfterFunc(time.Second, func() { fired++ })
	})

	c.Advance(3 * time.Second)
	if fired != 2 {
		t.Fatalf("expected nested timer to fire within the same advance, fired=%d", fired)
	}
}

func TestSleepHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected cancelled context error")
	}
}

func TestUniformStaysInRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		d := Uniform(30*time.Millisecond, 50*time.Millisecond)
		if d < 30*time.Millisecond || d > 50*time.Millisecond {
			t.Fatalf("Uniform out of range: %s", d)
		}
	}
	if got := Jitter(Lower).Pick(Range{Min: time.Second, Max: 2 * time.Second}); got != time.Second {
		t.Fatalf("Lower jitter returned %s", got)
	}
}
