package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/participant"
	"focusattend/internal/record"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// memRecords is an in-memory RecordStore stand-in.
type memRecords struct {
	inserted []record.Record
	fail     bool
}

func (m *memRecords) Insert(_ context.Context, rec record.Record) (record.Record, error) {
	if m.fail {
		return record.Record{}, errors.New("insert failed")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	m.inserted = append(m.inserted, rec)
	return rec, nil
}

type engineFixture struct {
	store   rtstore.Store
	tracker *participant.Tracker
	manager *session.Manager
	records *memRecords
	engine  *Engine
	sess    session.Session
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := rtstore.NewMemory(fc, nil)
	tracker := participant.NewTracker(store, nil)
	mgr := session.NewManager(store, fc, nil)
	records := &memRecords{}
	eng := NewEngine(store, tracker, mgr, records, nil)

	sess, err := mgr.Create(context.Background(), "owner-1", "standup", 30, 100, &geo.Point{Lat: 0, Lng: 0})
	require.NoError(t, err)
	return &engineFixture{store: store, tracker: tracker, manager: mgr, records: records, engine: eng, sess: sess}
}

func TestFinalize_WritesRecordAndCleansUp(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, f.sess.ID, "u1", participant.Profile{DisplayName: "Ada", ContactHandle: "ada@x"}, &geo.Point{Lat: 0, Lng: 1})
	require.NoError(t, err)
	_, err = f.tracker.Join(ctx, f.sess.ID, "u2", participant.Profile{DisplayName: "Bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.MarkAbsent(ctx, f.sess.ID, "u2", participant.ReasonTimeout))
	require.NoError(t, f.manager.Stop(ctx, f.sess.ID))

	rec, err := f.engine.Finalize(ctx, f.sess.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, f.sess.ID, rec.SessionID)
	assert.Equal(t, "standup", rec.Label)
	assert.Equal(t, f.sess.Code, rec.Code)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, rec.SummaryUserIDs)
	require.Len(t, rec.Summary, 2)

	rows := map[string]record.SummaryRow{}
	for _, row := range rec.Summary {
		rows[row.UserID] = row
	}
	require.NotNil(t, rows["u1"].DistanceMeters)
	assert.InDelta(t, 111195, *rows["u1"].DistanceMeters, 50)
	assert.Equal(t, "present", rows["u1"].Status)
	assert.Nil(t, rows["u2"].DistanceMeters)
	assert.Equal(t, "absent", rows["u2"].Status)

	// Real-time state is gone.
	_, err = f.manager.Get(ctx, f.sess.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.tracker.Get(ctx, f.sess.ID, "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFinalize_SingleShot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Stop(ctx, f.sess.ID))

	_, err := f.engine.Finalize(ctx, f.sess.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.Finalize(ctx, f.sess.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Len(t, f.records.inserted, 1)
}

func TestFinalize_DefaultsMissingStatusToPresent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// A bare roster document with no status field.
	require.NoError(t, f.store.Set(ctx, participant.Path(f.sess.ID, "u9"), rtstore.Doc{"userId": "u9"}, false))

	rec, err := f.engine.Finalize(ctx, f.sess.ID, nil)
	require.NoError(t, err)
	require.Len(t, rec.Summary, 1)
	assert.Equal(t, "present", rec.Summary[0].Status)
}

func TestFinalize_AppliesOwnerOverrides(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, f.sess.ID, "u1", participant.Profile{}, nil)
	require.NoError(t, err)

	rec, err := f.engine.Finalize(ctx, f.sess.ID, map[string]string{"u1": "late"})
	require.NoError(t, err)
	require.Len(t, rec.Summary, 1)
	assert.Equal(t, "late", rec.Summary[0].Status)
}

func TestFinalize_RejectsUnknownOverride(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, f.sess.ID, "u1", participant.Profile{}, nil)
	require.NoError(t, err)

	_, err = f.engine.Finalize(ctx, f.sess.ID, map[string]string{"u1": "vanished"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, f.records.inserted)

	// Nothing was deleted, a retry can succeed.
	_, err = f.manager.Get(ctx, f.sess.ID)
	assert.NoError(t, err)
}

func TestFinalize_KeepsStateOnInsertFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.records.fail = true

	_, err := f.engine.Finalize(ctx, f.sess.ID, nil)
	require.Error(t, err)

	f.records.fail = false
	_, err = f.engine.Finalize(ctx, f.sess.ID, nil)
	assert.NoError(t, err)
	assert.Len(t, f.records.inserted, 1)
}
