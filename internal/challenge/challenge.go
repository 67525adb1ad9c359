// Package challenge runs the focus-mode verification state machine: after
// a participant enters the monitored view, a code prompt opens on a delay,
// holds a short answer window and a small attempt budget, and resolves to
// verified or one of the absent outcomes.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/participant"
)

// State is the challenge lifecycle state.
type State string

const (
	StateJoined         State = "joined"
	StateAwaitingCode   State = "awaiting_code"
	StateVerified       State = "verified"
	StateAbsentTimeout  State = "absent_timeout"
	StateAbsentExceeded State = "absent_exceeded"
	StateAbsentExited   State = "absent_exited"
	StateSessionEnded   State = "session_ended"
)

// Resolved reports whether the challenge can no longer accept submissions.
func (s State) Resolved() bool {
	switch s {
	case StateJoined, StateAwaitingCode:
		return false
	}
	return true
}

// Config carries the timing knobs of a challenge.
type Config struct {
	OpenDelay   time.Duration
	Window      time.Duration
	MaxAttempts int
}

// Snapshot is the externally visible challenge state, pushed to the
// participant device on every change.
type Snapshot struct {
	State        State  `json:"state"`
	Remaining    string `json:"remaining,omitempty"`
	AttemptsLeft int    `json:"attemptsLeft"`
}

// Challenge is one participant's verification run within one session. All
// transitions happen under the mutex; a timer callback that lost a race
// observes the state and does nothing. Outcome writes are fail-open: the
// local transition stands even when the store write is lost.
type Challenge struct {
	sessionID string
	userID    string
	code      string
	cfg       Config
	clock     clock.Clock
	tracker   *participant.Tracker
	log       *zap.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	remaining string
	openTimer clock.Timer
	window    *clock.Countdown
	observer  func(Snapshot)
}

func newChallenge(sessionID, userID, code string, cfg Config, c clock.Clock, tracker *participant.Tracker, log *zap.Logger) *Challenge {
	if log == nil {
		log = zap.NewNop()
	}
	ch := &Challenge{
		sessionID: sessionID,
		userID:    userID,
		code:      code,
		cfg:       cfg,
		clock:     c,
		tracker:   tracker,
		log:       log,
		state:     StateJoined,
	}
	ch.mu.Lock()
	ch.openTimer = c.AfterFunc(cfg.OpenDelay, ch.open)
	ch.mu.Unlock()
	return ch
}

// Snapshot returns the current visible state.
func (ch *Challenge) Snapshot() Snapshot {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshotLocked()
}

func (ch *Challenge) snapshotLocked() Snapshot {
	left := ch.cfg.MaxAttempts - ch.attempts
	if left < 0 {
		left = 0
	}
	return Snapshot{State: ch.state, Remaining: ch.remaining, AttemptsLeft: left}
}

// SetObserver installs the callback receiving state changes and countdown
// ticks, firing it once with the current state. A reconnecting device
// replaces the previous observer.
func (ch *Challenge) SetObserver(fn func(Snapshot)) {
	ch.mu.Lock()
	ch.observer = fn
	snap := ch.snapshotLocked()
	ch.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// open moves Joined to AwaitingCode and arms the answer window.
func (ch *Challenge) open() {
	ch.mu.Lock()
	if ch.state != StateJoined {
		ch.mu.Unlock()
		return
	}
	ch.state = StateAwaitingCode
	ch.openTimer = nil
	ch.remaining = clock.FormatRemaining(ch.cfg.Window)
	deadline := ch.clock.Now().Add(ch.cfg.Window)
	ch.window = clock.NewCountdown(ch.clock, deadline, ch.onTick, ch.onWindowDue)
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
}

func (ch *Challenge) onTick(remaining string) {
	ch.mu.Lock()
	if ch.state != StateAwaitingCode {
		ch.mu.Unlock()
		return
	}
	ch.remaining = remaining
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
}

func (ch *Challenge) onWindowDue() {
	ch.mu.Lock()
	if ch.state != StateAwaitingCode {
		ch.mu.Unlock()
		return
	}
	ch.state = StateAbsentTimeout
	ch.stopTimersLocked()
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
	ch.persistAbsent(participant.ReasonTimeout)
}

// Submit checks one code entry. Empty input is rejected without consuming
// an attempt; only a wrong non-empty submission counts against the budget.
// Matching ignores surrounding whitespace and letter case.
func (ch *Challenge) Submit(ctx context.Context, input string) error {
	ch.mu.Lock()
	switch {
	case ch.state == StateJoined:
		ch.mu.Unlock()
		return fmt.Errorf("challenge not open yet: %w", errs.ErrValidation)
	case ch.state != StateAwaitingCode:
		ch.mu.Unlock()
		return errs.ErrChallengeOver
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		ch.mu.Unlock()
		return errs.ErrEmptyCode
	}

	if strings.EqualFold(trimmed, ch.code) {
		ch.state = StateVerified
		ch.stopTimersLocked()
		notify := ch.pendingNotifyLocked()
		ch.mu.Unlock()
		notify()
		if err := ch.tracker.MarkVerified(ctx, ch.sessionID, ch.userID); err != nil {
			ch.log.Warn("verified write failed, keeping local state",
				zap.String("session_id", ch.sessionID),
				zap.String("user_id", ch.userID),
				zap.Error(err))
		}
		return nil
	}

	ch.attempts++
	if ch.attempts >= ch.cfg.MaxAttempts {
		ch.state = StateAbsentExceeded
		ch.stopTimersLocked()
		notify := ch.pendingNotifyLocked()
		ch.mu.Unlock()
		notify()
		ch.persistAbsent(participant.ReasonExceeded)
		return fmt.Errorf("attempt limit reached: %w", errs.ErrWrongCode)
	}
	left := ch.cfg.MaxAttempts - ch.attempts
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
	return fmt.Errorf("%d attempts left: %w", left, errs.ErrWrongCode)
}

// Exit handles the participant leaving the monitored view before the
// session ends. It wins any race with the window timeout; both paths
// converge on absent. Exiting an already resolved absence is a no-op.
func (ch *Challenge) Exit(ctx context.Context) error {
	ch.mu.Lock()
	switch ch.state {
	case StateAbsentTimeout, StateAbsentExceeded, StateAbsentExited, StateSessionEnded:
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateAbsentExited
	ch.stopTimersLocked()
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
	if err := ch.tracker.MarkAbsent(ctx, ch.sessionID, ch.userID, participant.ReasonExited); err != nil {
		ch.log.Warn("exit write failed, keeping local state",
			zap.String("session_id", ch.sessionID),
			zap.String("user_id", ch.userID),
			zap.Error(err))
	}
	return nil
}

// sessionEnded moves a still-running challenge to SessionEnded without
// touching the participant record, which is gone with the session.
func (ch *Challenge) sessionEnded() {
	ch.mu.Lock()
	if ch.state.Resolved() {
		ch.mu.Unlock()
		return
	}
	ch.state = StateSessionEnded
	ch.stopTimersLocked()
	notify := ch.pendingNotifyLocked()
	ch.mu.Unlock()
	notify()
}

func (ch *Challenge) persistAbsent(reason participant.AbsenceReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.tracker.MarkAbsent(ctx, ch.sessionID, ch.userID, reason); err != nil {
		ch.log.Warn("absence write failed, keeping local state",
			zap.String("session_id", ch.sessionID),
			zap.String("user_id", ch.userID),
			zap.String("reason", string(reason)),
			zap.Error(err))
	}
}

func (ch *Challenge) stopTimersLocked() {
	if ch.openTimer != nil {
		ch.openTimer.Stop()
		ch.openTimer = nil
	}
	if ch.window != nil {
		ch.window.Stop()
		ch.window = nil
	}
}

// pendingNotifyLocked captures the observer and snapshot under the lock and
// returns the call to make after unlocking.
func (ch *Challenge) pendingNotifyLocked() func() {
	fn := ch.observer
	if fn == nil {
		return func() {}
	}
	snap := ch.snapshotLocked()
	return func() { fn(snap) }
}
