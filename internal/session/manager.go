package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/rtstore"
)

// Manager owns session creation and the active→ended→archived transitions.
// Status transitions are idempotent writes: a stop racing an auto-expire
// converges on the same ended state.
type Manager struct {
	store rtstore.Store
	clock clock.Clock
	log   *zap.Logger
}

// NewManager creates a session manager.
func NewManager(store rtstore.Store, c clock.Clock, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, clock: c, log: log}
}

// Create validates parameters, generates the shareable code, fixes the
// deadline and persists the session as active.
func (m *Manager) Create(ctx context.Context, ownerID, label string, thresholdMinutes, radiusMeters int, ownerLoc *geo.Point) (Session, error) {
	if strings.TrimSpace(label) == "" {
		return Session{}, fmt.Errorf("label required: %w", errs.ErrValidation)
	}
	if thresholdMinutes <= 0 {
		return Session{}, fmt.Errorf("threshold minutes must be positive: %w", errs.ErrValidation)
	}
	if radiusMeters <= 0 {
		return Session{}, fmt.Errorf("radius meters must be positive: %w", errs.ErrValidation)
	}

	id := uuid.NewString()
	code := GenerateCode()
	endsAt := m.clock.Now().Add(time.Duration(thresholdMinutes) * time.Minute).UnixMilli()

	fields := rtstore.Doc{
		"code":             code,
		"ownerId":          ownerID,
		"label":            label,
		"thresholdMinutes": thresholdMinutes,
		"radiusMeters":     radiusMeters,
		"status":           string(StatusActive),
		"createdAt":        rtstore.ServerTimestamp,
		"updatedAt":        rtstore.ServerTimestamp,
		"endsAtMs":         endsAt,
	}
	if ownerLoc != nil {
		loc, err := rtstore.Encode(ownerLoc)
		if err != nil {
			return Session{}, err
		}
		fields["ownerLocation"] = map[string]any(loc)
	}
	if err := m.store.Set(ctx, Path(id), fields, false); err != nil {
		return Session{}, err
	}
	sess, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	m.log.Info("session created",
		zap.String("session_id", id),
		zap.String("label", label),
		zap.Int("threshold_minutes", thresholdMinutes))
	return sess, nil
}

// Get reads a session.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	doc, err := m.store.Get(ctx, Path(id))
	if err != nil {
		return Session{}, err
	}
	return FromDoc(id, doc)
}

// Stop is the owner-triggered early termination. The record is kept: the
// reconciliation engine still needs it.
func (m *Manager) Stop(ctx context.Context, id string) error {
	return m.end(ctx, id, "manual")
}

// AutoExpire ends a session once its deadline passes. Idempotent: a second
// call after expiry is a no-op, as is racing a manual stop.
func (m *Manager) AutoExpire(ctx context.Context, id string) error {
	return m.end(ctx, id, "expired")
}

func (m *Manager) end(ctx context.Context, id, cause string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return nil
	}
	err = m.store.Set(ctx, Path(id), rtstore.Doc{
		"status":    string(StatusEnded),
		"endedAt":   rtstore.ServerTimestamp,
		"updatedAt": rtstore.ServerTimestamp,
	}, true)
	if err != nil {
		return err
	}
	m.log.Info("session ended", zap.String("session_id", id), zap.String("cause", cause))
	return nil
}

// Archive marks the session archived ahead of record deletion.
func (m *Manager) Archive(ctx context.Context, id string) error {
	return m.store.Set(ctx, Path(id), rtstore.Doc{
		"status":     string(StatusArchived),
		"archivedAt": rtstore.ServerTimestamp,
		"updatedAt":  rtstore.ServerTimestamp,
	}, true)
}

// Delete removes the session document and, through the store's cascade, its
// participants.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, Path(id))
}

// Watch subscribes to one session document. fn receives the decoded session
// and whether the document still exists; a deleted document is the
// "session ended" exit path for observers.
func (m *Manager) Watch(ctx context.Context, id string, fn func(Session, bool)) (rtstore.Subscription, error) {
	return m.store.WatchDoc(ctx, Path(id), func(snap rtstore.Snapshot) {
		if !snap.Exists {
			fn(Session{ID: id}, false)
			return
		}
		sess, err := FromDoc(id, snap.Data)
		if err != nil {
			m.log.Warn("session decode failed", zap.String("session_id", id), zap.Error(err))
			return
		}
		fn(sess, true)
	})
}

// WatchActive subscribes to the set of active sessions.
func (m *Manager) WatchActive(ctx context.Context, fn func([]Session)) (rtstore.Subscription, error) {
	q := rtstore.Query{}.Where("status", string(StatusActive))
	return m.store.WatchCollection(ctx, Collection, q, func(snaps []rtstore.Snapshot) {
		out := make([]Session, 0, len(snaps))
		for _, snap := range snaps {
			sess, err := FromDoc(snap.ID, snap.Data)
			if err != nil {
				m.log.Warn("session decode failed", zap.String("session_id", snap.ID), zap.Error(err))
				continue
			}
			out = append(out, sess)
		}
		fn(out)
	}, func(err error) {
		m.log.Warn("active sessions watch error", zap.Error(err))
	})
}

// ListActive returns the sessions currently marked active whose deadline has
// not yet passed; lingering endsAtMs stragglers are suppressed the same way
// the dashboards hide them.
func (m *Manager) ListActive(ctx context.Context) ([]Session, error) {
	out := []Session{}
	// The collection watch fires synchronously with the current member list.
	sub, err := m.WatchActive(ctx, func(list []Session) {
		now := m.clock.Now().UnixMilli()
		filtered := make([]Session, 0, len(list))
		for _, s := range list {
			if s.EndsAtMs > 0 && s.EndsAtMs <= now {
				continue
			}
			filtered = append(filtered, s)
		}
		out = filtered
	})
	if err != nil {
		return nil, err
	}
	sub.Unsubscribe()
	return out, nil
}
