package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/persona-chat/internal/pacing"
)

type fireLog struct {
	mu    sync.Mutex
	clock pacing.Clock
	fired []string
	at    []time.Time
}

func (f *fireLog) record(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, id)
	f.at = append(f.at, f.clock.Now())
}

func TestDebouncerFiresOnceAfterLastArm(t *testing.T) {
	t.Parallel()

	clock := pacing.NewVirtualClock(epoch)
	log := &fireLog{clock: clock}
	d := NewDebouncer(clock, 3500*time.Millisecond, log.record)

	for range 5 {
		d.Arm("c1")
		clock.Advance(time.Second)
	}
	assert.Empty(t, log.fired)
	assert.Equal(t, 1, clock.Pending(), "only one timer outstanding")

	clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"c1"}, log.fired)
	assert.Equal(t, []time.Time{epoch.Add(4*time.Second + 3500*time.Millisecond)}, log.at)
	assert.False(t, d.Armed("c1"))
}

func TestDebouncerConversationsAreIndependent(t *testing.T) {
	t.Parallel()

	clock := pacing.NewVirtualClock(epoch)
	log := &fireLog{clock: clock}
	d := NewDebouncer(clock, time.Second, log.record)

	d.Arm("a")
	clock.Advance(500 * time.Millisecond)
	d.Arm("b")
	clock.Advance(time.Second)
	d.Arm("a")
	clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b", "a"}, log.fired)
}

func TestDebouncerCancelAndStop(t *testing.T) {
	t.Parallel()

	clock := pacing.NewVirtualClock(epoch)
	log := &fireLog{clock: clock}
	d := NewDebouncer(clock, time.Second, log.record)

	d.Arm("a")
	assert.True(t, d.Cancel("a"))
	assert.False(t, d.Cancel("a"))

	d.Arm("b")
	d.Stop()
	d.Arm("c")
	clock.Advance(time.Minute)

	assert.Empty(t, log.fired)
	assert.Zero(t, clock.Pending())
}

func TestTypingDelay(t *testing.T) {
	t.Parallel()

	p := DefaultPacing()
	assert.Equal(t, 500*time.Millisecond, p.TypingDelay("", pacing.Lower))
	assert.Equal(t, 830*time.Millisecond, p.TypingDelay("what's good", pacing.Lower))
	upper := func(_, maxD time.Duration) time.Duration { return maxD }
	assert.Equal(t, 1050*time.Millisecond, p.TypingDelay("what's good", upper))
	assert.Equal(t, 3500*time.Millisecond, p.TypingDelay(string(make([]byte, 500)), pacing.Lower), "clamped")
	assert.Equal(t, 620*time.Millisecond, p.TypingDelay("🔥🔥", pacing.Lower), "astral emoji count as two units")
	assert.Equal(t, 590*time.Millisecond, p.TypingDelay("h\u00e9y", pacing.Lower))

	for range 100 {
		d := p.TypingDelay("hello there", nil)
		assert.GreaterOrEqual(t, d, 830*time.Millisecond)
		assert.LessOrEqual(t, d, 1050*time.Millisecond)
	}
}
