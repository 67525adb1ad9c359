package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "00:00", FormatRemaining(0))
	assert.Equal(t, "00:00", FormatRemaining(-5*time.Second))
	assert.Equal(t, "00:01", FormatRemaining(1500*time.Millisecond))
	assert.Equal(t, "01:30", FormatRemaining(90*time.Second))
	assert.Equal(t, "15:00", FormatRemaining(15*time.Minute))
	assert.Equal(t, "120:00", FormatRemaining(2*time.Hour))
}

func TestCountdown_TicksEverySecond(t *testing.T) {
	fc := NewFake(time.Unix(1000, 0))
	var labels []string
	cd := NewCountdown(fc, fc.Now().Add(5*time.Second), func(s string) { labels = append(labels, s) }, nil)
	defer cd.Stop()

	fc.Advance(3 * time.Second)
	assert.Equal(t, []string{"00:04", "00:03", "00:02"}, labels)
}

func TestCountdown_DueFiresExactlyOnce(t *testing.T) {
	fc := NewFake(time.Unix(1000, 0))
	dueCount := 0
	var last string
	cd := NewCountdown(fc, fc.Now().Add(3*time.Second), func(s string) { last = s }, func() { dueCount++ })
	defer cd.Stop()

	fc.Advance(10 * time.Second)
	assert.Equal(t, 1, dueCount, "onDue must fire exactly once")
	assert.Equal(t, "00:00", last, "final tick is clamped at 00:00")

	// No further ticks after due.
	fc.Advance(10 * time.Second)
	assert.Equal(t, 1, dueCount)
}

func TestCountdown_StopPreventsFurtherTicks(t *testing.T) {
	fc := NewFake(time.Unix(1000, 0))
	ticks := 0
	dues := 0
	cd := NewCountdown(fc, fc.Now().Add(time.Minute), func(string) { ticks++ }, func() { dues++ })

	fc.Advance(2 * time.Second)
	assert.Equal(t, 2, ticks)

	cd.Stop()
	fc.Advance(2 * time.Minute)
	assert.Equal(t, 2, ticks, "no ticks after Stop")
	assert.Equal(t, 0, dues, "no due after Stop")
}

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	var order []int
	fc.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fc.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fc.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fc.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFake_StoppedTimerDoesNotFire(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	fired := false
	timer := fc.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	fc.Advance(5 * time.Second)
	assert.False(t, fired)
	assert.False(t, timer.Stop(), "second Stop reports already stopped")
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	var hits []time.Time
	fc.AfterFunc(time.Second, func() {
		hits = append(hits, fc.Now())
		fc.AfterFunc(time.Second, func() { hits = append(hits, fc.Now()) })
	})
	fc.Advance(3 * time.Second)
	if assert.Len(t, hits, 2) {
		assert.Equal(t, time.Unix(1, 0), hits[0])
		assert.Equal(t, time.Unix(2, 0), hits[1])
	}
}
