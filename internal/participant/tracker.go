// Package participant tracks the per-session join records that the
// reconciliation engine later turns into an immutable attendance record.
package participant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/metrics"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// Tracker owns participant documents: join upserts, status downgrades and
// live roster subscriptions. Statuses only move toward absent; a re-join
// merge never resurrects a downgraded participant.
type Tracker struct {
	store rtstore.Store
	log   *zap.Logger

	mu   sync.Mutex
	subs map[subKey]rtstore.Subscription
}

type subKey struct {
	sessionID  string
	observerID string
}

// NewTracker creates a participant tracker.
func NewTracker(store rtstore.Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, log: log, subs: make(map[subKey]rtstore.Subscription)}
}

// Join upserts the caller's participant record under an active session. The
// write is a merge so a device rejoining after a reload keeps its original
// joinedAt and, crucially, any status it was already downgraded to.
func (t *Tracker) Join(ctx context.Context, sessionID, userID string, profile Profile, loc *geo.Point) (Participant, error) {
	if strings.TrimSpace(userID) == "" {
		return Participant{}, fmt.Errorf("user id required: %w", errs.ErrValidation)
	}
	sess, err := t.session(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}
	if sess.Status != session.StatusActive {
		return Participant{}, errs.ErrSessionEnded
	}

	_, err = t.get(ctx, sessionID, userID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return Participant{}, err
	}
	fresh := errors.Is(err, errs.ErrNotFound)

	fields := rtstore.Doc{
		"userId":        userID,
		"displayName":   profile.DisplayName,
		"contactHandle": profile.ContactHandle,
	}
	if profile.ImageRef != nil {
		fields["imageRef"] = *profile.ImageRef
	}
	if loc != nil {
		point, encErr := rtstore.Encode(loc)
		if encErr != nil {
			return Participant{}, encErr
		}
		fields["location"] = map[string]any(point)
	}
	if fresh {
		fields["joinedAt"] = rtstore.ServerTimestamp
		fields["status"] = string(StatusPresent)
		fields["present"] = true
	}

	if err := t.store.Set(ctx, Path(sessionID, userID), fields, true); err != nil {
		return Participant{}, err
	}
	if fresh {
		metrics.ParticipantsJoined.Inc()
		t.log.Info("participant joined",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
	}
	return t.get(ctx, sessionID, userID)
}

// Get reads one participant record.
func (t *Tracker) Get(ctx context.Context, sessionID, userID string) (Participant, error) {
	return t.get(ctx, sessionID, userID)
}

func (t *Tracker) get(ctx context.Context, sessionID, userID string) (Participant, error) {
	doc, err := t.store.Get(ctx, Path(sessionID, userID))
	if err != nil {
		return Participant{}, err
	}
	return FromDoc(doc)
}

// List returns the current roster of a session.
func (t *Tracker) List(ctx context.Context, sessionID string) ([]Participant, error) {
	var (
		out     []Participant
		decErr  error
		watched bool
	)
	sub, err := t.store.WatchCollection(ctx, CollectionPath(sessionID), rtstore.Query{}, func(snaps []rtstore.Snapshot) {
		if watched {
			return
		}
		watched = true
		for _, snap := range snaps {
			p, err := FromDoc(snap.Data)
			if err != nil {
				decErr = err
				return
			}
			out = append(out, p)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	sub.Unsubscribe()
	return out, decErr
}

// MarkVerified records a passed verification challenge. Verified can only
// be reached from a still-present participant, so writing present here never
// overrides an absence.
func (t *Tracker) MarkVerified(ctx context.Context, sessionID, userID string) error {
	err := t.store.Set(ctx, Path(sessionID, userID), rtstore.Doc{
		"status":         string(StatusPresent),
		"present":        true,
		"codeVerified":   true,
		"codeVerifiedAt": rtstore.ServerTimestamp,
		"exitedEarly":    false,
	}, true)
	if err == nil {
		metrics.Verifications.WithLabelValues("verified").Inc()
	}
	return err
}

// MarkAbsent downgrades a participant with the audit flag matching reason.
// Every absence path records when the participant left focus.
func (t *Tracker) MarkAbsent(ctx context.Context, sessionID, userID string, reason AbsenceReason) error {
	fields := rtstore.Doc{
		"status":      string(StatusAbsent),
		"present":     false,
		"exitedEarly": true,
		"exitedAt":    rtstore.ServerTimestamp,
	}
	switch reason {
	case ReasonExited:
		metrics.Verifications.WithLabelValues("exited").Inc()
	case ReasonTimeout:
		fields["codeTimeoutAbsent"] = true
		metrics.Verifications.WithLabelValues("timeout").Inc()
	case ReasonExceeded:
		fields["codeAttemptsExceeded"] = true
		metrics.Verifications.WithLabelValues("exceeded").Inc()
	default:
		return fmt.Errorf("unknown absence reason %q: %w", reason, errs.ErrValidation)
	}
	t.log.Info("participant marked absent",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("reason", string(reason)))
	return t.store.Set(ctx, Path(sessionID, userID), fields, true)
}

// Subscribe delivers the live roster to one observer. A second call with the
// same (sessionID, observerID) replaces the previous subscription, so a
// reconnecting owner device never double-listens.
func (t *Tracker) Subscribe(ctx context.Context, sessionID, observerID string, fn func([]Participant), onErr func(error)) (rtstore.Subscription, error) {
	deliver := func(snaps []rtstore.Snapshot) {
		roster := make([]Participant, 0, len(snaps))
		for _, snap := range snaps {
			p, err := FromDoc(snap.Data)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			roster = append(roster, p)
		}
		fn(roster)
	}
	q := rtstore.Query{}.OrderBy("joinedAt", false)
	sub, err := rtstore.WatchWithFallback(ctx, t.store, CollectionPath(sessionID), q, deliver, onErr)
	if err != nil {
		return nil, err
	}

	key := subKey{sessionID: sessionID, observerID: observerID}
	t.mu.Lock()
	if prev, ok := t.subs[key]; ok {
		prev.Unsubscribe()
	}
	t.subs[key] = sub
	t.mu.Unlock()

	return &trackedSub{tracker: t, key: key, inner: sub}, nil
}

// Unsubscribe drops one observer's roster subscription if it is live.
func (t *Tracker) Unsubscribe(sessionID, observerID string) {
	key := subKey{sessionID: sessionID, observerID: observerID}
	t.mu.Lock()
	sub, ok := t.subs[key]
	if ok {
		delete(t.subs, key)
	}
	t.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// Close tears down every live subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[subKey]rtstore.Subscription)
	t.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

type trackedSub struct {
	tracker *Tracker
	key     subKey
	inner   rtstore.Subscription
	once    sync.Once
}

func (s *trackedSub) Unsubscribe() {
	s.once.Do(func() {
		s.tracker.mu.Lock()
		if s.tracker.subs[s.key] == s.inner {
			delete(s.tracker.subs, s.key)
		}
		s.tracker.mu.Unlock()
		s.inner.Unsubscribe()
	})
}

func (t *Tracker) session(ctx context.Context, sessionID string) (session.Session, error) {
	doc, err := t.store.Get(ctx, session.Path(sessionID))
	if err != nil {
		return session.Session{}, err
	}
	return session.FromDoc(sessionID, doc)
}
