package clock

import (
	"fmt"
	"sync"
	"time"
)

// tickInterval is the countdown cadence.
const tickInterval = time.Second

// Countdown ticks once per second toward a fixed deadline, reporting the
// remaining time as an "mm:ss" label clamped at "00:00". When the remaining
// time crosses zero it fires onDue exactly once and stops ticking.
type Countdown struct {
	clock    Clock
	deadline time.Time
	onTick   func(remaining string)
	onDue    func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
	due     bool
}

// NewCountdown starts a countdown toward deadline. onTick and onDue may be
// nil. Stop must be called when the observing context no longer needs it.
func NewCountdown(c Clock, deadline time.Time, onTick func(string), onDue func()) *Countdown {
	cd := &Countdown{clock: c, deadline: deadline, onTick: onTick, onDue: onDue}
	cd.mu.Lock()
	cd.timer = c.AfterFunc(tickInterval, cd.tick)
	cd.mu.Unlock()
	return cd
}

// Stop cancels the countdown. No tick or due callback runs after Stop
// returns.
func (cd *Countdown) Stop() {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.stopped = true
	if cd.timer != nil {
		cd.timer.Stop()
		cd.timer = nil
	}
}

func (cd *Countdown) tick() {
	cd.mu.Lock()
	if cd.stopped || cd.due {
		cd.mu.Unlock()
		return
	}
	remaining := cd.deadline.Sub(cd.clock.Now())
	if remaining <= 0 {
		cd.due = true
		cd.timer = nil
		onTick, onDue := cd.onTick, cd.onDue
		cd.mu.Unlock()
		if onTick != nil {
			onTick("00:00")
		}
		if onDue != nil {
			onDue()
		}
		return
	}
	cd.timer = cd.clock.AfterFunc(tickInterval, cd.tick)
	onTick := cd.onTick
	cd.mu.Unlock()
	if onTick != nil {
		onTick(FormatRemaining(remaining))
	}
}

// FormatRemaining renders a duration as "mm:ss", clamped at "00:00".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
