package challenge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/participant"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// Registry holds at most one challenge per (session, participant) and ends
// all of a session's challenges when its document vanishes or stops being
// active.
type Registry struct {
	store   rtstore.Store
	tracker *participant.Tracker
	clock   clock.Clock
	cfg     Config
	log     *zap.Logger

	// Session watches outlive the request that created them, so they run
	// on the registry's own context, cancelled in Close.
	watchCtx    context.Context
	watchCancel context.CancelFunc

	mu         sync.Mutex
	challenges map[challengeKey]*Challenge
	watches    map[string]rtstore.Subscription
}

type challengeKey struct {
	sessionID string
	userID    string
}

// NewRegistry creates a challenge registry.
func NewRegistry(store rtstore.Store, tracker *participant.Tracker, c clock.Clock, cfg Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:       store,
		tracker:     tracker,
		clock:       c,
		cfg:         cfg,
		log:         log,
		watchCtx:    ctx,
		watchCancel: cancel,
		challenges:  make(map[challengeKey]*Challenge),
		watches:     make(map[string]rtstore.Subscription),
	}
}

// Enter starts, or returns, the caller's challenge for an active session.
// Re-entering the monitored view while a challenge is live hands back the
// live one without resetting its timers.
func (r *Registry) Enter(ctx context.Context, sessionID, userID string) (*Challenge, error) {
	sess, err := r.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, errs.ErrSessionEnded
	}

	key := challengeKey{sessionID: sessionID, userID: userID}
	r.mu.Lock()
	if ch, ok := r.challenges[key]; ok {
		r.mu.Unlock()
		return ch, nil
	}
	ch := newChallenge(sessionID, userID, sess.Code, r.cfg, r.clock, r.tracker, r.log)
	r.challenges[key] = ch
	_, watching := r.watches[sessionID]
	if !watching {
		// Reserve the slot so a concurrent Enter does not double-watch.
		r.watches[sessionID] = nil
	}
	r.mu.Unlock()

	if !watching {
		sub, watchErr := r.store.WatchDoc(r.watchCtx, session.Path(sessionID), func(snap rtstore.Snapshot) {
			if snap.Exists {
				s, decErr := session.FromDoc(sessionID, snap.Data)
				if decErr == nil && s.Status == session.StatusActive {
					return
				}
			}
			r.EndSession(sessionID)
		})
		if watchErr != nil {
			r.log.Warn("session watch failed",
				zap.String("session_id", sessionID),
				zap.Error(watchErr))
		} else {
			r.mu.Lock()
			if _, ok := r.watches[sessionID]; ok {
				r.watches[sessionID] = sub
			} else {
				// EndSession already ran.
				r.mu.Unlock()
				sub.Unsubscribe()
				return ch, nil
			}
			r.mu.Unlock()
		}
	}
	return ch, nil
}

// Get returns the live challenge for (sessionID, userID), if any.
func (r *Registry) Get(sessionID, userID string) (*Challenge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[challengeKey{sessionID: sessionID, userID: userID}]
	return ch, ok
}

// Exit resolves the caller's exit from the monitored view. Without a live
// challenge (the prompt never opened on this node) the participant record
// is still downgraded directly.
func (r *Registry) Exit(ctx context.Context, sessionID, userID string) error {
	if ch, ok := r.Get(sessionID, userID); ok {
		return ch.Exit(ctx)
	}
	if _, err := r.tracker.Get(ctx, sessionID, userID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.tracker.MarkAbsent(ctx, sessionID, userID, participant.ReasonExited)
}

// EndSession moves every challenge of the session to SessionEnded and drops
// the session watch. Called from the watch callback when the document is
// deleted or stops being active.
func (r *Registry) EndSession(sessionID string) {
	r.mu.Lock()
	var ended []*Challenge
	for key, ch := range r.challenges {
		if key.sessionID == sessionID {
			ended = append(ended, ch)
			delete(r.challenges, key)
		}
	}
	sub, watched := r.watches[sessionID]
	delete(r.watches, sessionID)
	r.mu.Unlock()

	for _, ch := range ended {
		ch.sessionEnded()
	}
	if watched && sub != nil {
		sub.Unsubscribe()
	}
}

// Close ends every live challenge and watch.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make(map[string]struct{})
	for key := range r.challenges {
		sessions[key.sessionID] = struct{}{}
	}
	for id := range r.watches {
		sessions[id] = struct{}{}
	}
	r.mu.Unlock()
	for id := range sessions {
		r.EndSession(id)
	}
	r.watchCancel()
}

func (r *Registry) session(ctx context.Context, sessionID string) (session.Session, error) {
	doc, err := r.store.Get(ctx, session.Path(sessionID))
	if err != nil {
		return session.Session{}, err
	}
	return session.FromDoc(sessionID, doc)
}
