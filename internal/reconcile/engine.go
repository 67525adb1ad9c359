// Package reconcile turns an ended session and its participant documents
// into one immutable attendance record, then removes the real-time state.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/metrics"
	"focusattend/internal/participant"
	"focusattend/internal/record"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// RecordStore is the persistence sink for finished records.
type RecordStore interface {
	Insert(ctx context.Context, rec record.Record) (record.Record, error)
}

// Engine runs the finalize step. Deleting the session document last makes
// the whole step single-shot: a duplicate message finds nothing and stops.
type Engine struct {
	store   rtstore.Store
	tracker *participant.Tracker
	manager *session.Manager
	records RecordStore
	log     *zap.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(store rtstore.Store, tracker *participant.Tracker, manager *session.Manager, records RecordStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, tracker: tracker, manager: manager, records: records, log: log}
}

// Finalize reconciles one session: reads the session and its participants,
// applies any owner status overrides, computes distances against the owner
// position, writes the record, archives the session and deletes its
// real-time documents. A session that is already gone returns ErrNotFound.
func (e *Engine) Finalize(ctx context.Context, sessionID string, overrides map[string]string) (record.Record, error) {
	sess, err := e.manager.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			metrics.Reconciliations.WithLabelValues("not_found").Inc()
		} else {
			metrics.Reconciliations.WithLabelValues("error").Inc()
		}
		return record.Record{}, err
	}

	roster, err := e.tracker.List(ctx, sessionID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return record.Record{}, err
	}

	summary := make([]record.SummaryRow, 0, len(roster))
	userIDs := make([]string, 0, len(roster))
	for _, p := range roster {
		status := string(p.Status)
		if status == "" {
			status = string(participant.StatusPresent)
		}
		if override, ok := overrides[p.UserID]; ok {
			status, err = normalizeStatus(override)
			if err != nil {
				metrics.Reconciliations.WithLabelValues("error").Inc()
				return record.Record{}, err
			}
		}
		summary = append(summary, record.SummaryRow{
			ParticipantID:  p.UserID,
			UserID:         p.UserID,
			DisplayName:    p.DisplayName,
			ContactHandle:  p.ContactHandle,
			Status:         status,
			DistanceMeters: geo.DistanceMeters(sess.OwnerLocation, p.Location),
		})
		userIDs = append(userIDs, p.UserID)
	}

	rec, err := e.records.Insert(ctx, record.Record{
		SessionID:        sessionID,
		Label:            sess.Label,
		Code:             sess.Code,
		ThresholdMinutes: sess.ThresholdMinutes,
		RadiusMeters:     sess.RadiusMeters,
		OwnerID:          sess.OwnerID,
		Summary:          summary,
		SummaryUserIDs:   userIDs,
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return record.Record{}, err
	}

	if err := e.manager.Archive(ctx, sessionID); err != nil {
		e.log.Warn("archive failed, record already written",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := e.store.Delete(ctx, session.Path(sessionID)); err != nil {
		e.log.Warn("session cleanup failed, record already written",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	metrics.Reconciliations.WithLabelValues("ok").Inc()
	e.log.Info("session reconciled",
		zap.String("session_id", sessionID),
		zap.String("record_id", rec.ID),
		zap.Int("participants", len(summary)))
	return rec, nil
}

func normalizeStatus(s string) (string, error) {
	switch participant.Status(s) {
	case participant.StatusPresent, participant.StatusLate, participant.StatusAbsent:
		return s, nil
	}
	return "", fmt.Errorf("unknown status override %q: %w", s, errs.ErrValidation)
}
