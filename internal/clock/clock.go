package clock

import "time"

// Clock abstracts wall time so deadline-driven transitions are testable.
// Every timed edge in the engine (session expiry, challenge open delay,
// verification window) runs through a Clock rather than package time directly.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was prevented
	// from running.
	Stop() bool
}

// System is the real clock.
type System struct{}

// NewSystem returns a Clock backed by package time.
func NewSystem() System { return System{} }

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// AfterFunc schedules f after d.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool { return s.t.Stop() }
