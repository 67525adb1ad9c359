package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/metrics"
	"focusattend/internal/queue"
)

// Scheduler centralizes the deadline edge for every active session: one
// countdown per session, cancelled on manual stop, firing AutoExpire and a
// reconcile message when the deadline passes. Views observing the same
// deadline read EndsAtMs themselves; they do not own timers here.
type Scheduler struct {
	manager *Manager
	clock   clock.Clock
	queue   queue.Queue
	log     *zap.Logger

	mu         sync.Mutex
	countdowns map[string]*clock.Countdown
}

// NewScheduler creates a scheduler.
func NewScheduler(m *Manager, c clock.Clock, q queue.Queue, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		manager:    m,
		clock:      c,
		queue:      q,
		log:        log,
		countdowns: make(map[string]*clock.Countdown),
	}
}

// Track arms the expiry countdown for a newly created session. Tracking the
// same session twice replaces the previous countdown.
func (s *Scheduler) Track(sess Session) {
	deadline := time.UnixMilli(sess.EndsAtMs)
	id := sess.ID

	s.mu.Lock()
	if prev, ok := s.countdowns[id]; ok {
		prev.Stop()
	}
	s.countdowns[id] = clock.NewCountdown(s.clock, deadline, nil, func() {
		s.expire(id)
	})
	s.mu.Unlock()
}

// SessionStopped cancels the countdown after a manual stop and hands the
// session to reconciliation, carrying any owner status overrides.
func (s *Scheduler) SessionStopped(ctx context.Context, id string, overrides map[string]string) {
	s.cancel(id)
	metrics.SessionsEnded.WithLabelValues("manual").Inc()
	s.enqueueReconcile(ctx, id, overrides)
}

// Close cancels every pending countdown.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cd := range s.countdowns {
		cd.Stop()
		delete(s.countdowns, id)
	}
}

func (s *Scheduler) expire(id string) {
	s.cancel(id)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.manager.AutoExpire(ctx, id); err != nil {
		s.log.Warn("auto expire failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	metrics.SessionsEnded.WithLabelValues("expired").Inc()
	s.enqueueReconcile(ctx, id, nil)
}

func (s *Scheduler) cancel(id string) {
	s.mu.Lock()
	if cd, ok := s.countdowns[id]; ok {
		cd.Stop()
		delete(s.countdowns, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) enqueueReconcile(ctx context.Context, id string, overrides map[string]string) {
	msg, err := queue.NewReconcileMessage(queue.ReconcileTask{SessionID: id, Overrides: overrides})
	if err != nil {
		s.log.Warn("reconcile encode failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	if err := s.queue.Publish(ctx, msg); err != nil {
		s.log.Warn("reconcile enqueue failed", zap.String("session_id", id), zap.Error(err))
	}
}
