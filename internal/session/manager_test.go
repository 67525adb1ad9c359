package session

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/queue"
	"focusattend/internal/rtstore"
)

func newTestManager(t *testing.T) (*Manager, *rtstore.Memory, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := rtstore.NewMemory(fc, nil)
	return NewManager(store, fc, nil), store, fc
}

func TestGenerateCode_Shape(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	for i := 0; i < 100; i++ {
		code := GenerateCode()
		assert.Regexp(t, re, code)
	}
}

func TestCreate_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "f1", "", 15, 50, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "empty label")

	_, err = m.Create(ctx, "f1", "  ", 15, 50, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "blank label")

	_, err = m.Create(ctx, "f1", "CS101", 0, 50, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "non-positive threshold")

	_, err = m.Create(ctx, "f1", "CS101", 15, -1, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "non-positive radius")
}

func TestCreate_SetsDeadlineAndDefaults(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()

	loc := &geo.Point{Lat: 12.9, Lng: 77.5}
	sess, err := m.Create(ctx, "f1", "CS101", 15, 50, loc)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "f1", sess.OwnerID)
	assert.Equal(t, fc.Now().Add(15*time.Minute).UnixMilli(), sess.EndsAtMs)
	assert.NotZero(t, sess.CreatedAt, "createdAt is server-assigned")
	assert.NotZero(t, sess.UpdatedAt)
	require.NotNil(t, sess.OwnerLocation)
	assert.Equal(t, 12.9, sess.OwnerLocation.Lat)
}

func TestEndsAt_FixedAcrossStopAndExpire(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "f1", "CS101", 15, 50, nil)
	require.NoError(t, err)
	endsAt := sess.EndsAtMs

	fc.Advance(time.Minute)
	require.NoError(t, m.Stop(ctx, sess.ID))
	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, endsAt, got.EndsAtMs, "endsAt never recomputed on stop")

	require.NoError(t, m.AutoExpire(ctx, sess.ID))
	got, err = m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, endsAt, got.EndsAtMs, "endsAt never recomputed on expire")
}

func TestStop_IdempotentAndRecordsEnd(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "f1", "CS101", 15, 50, nil)
	require.NoError(t, err)

	fc.Advance(time.Second)
	require.NoError(t, m.Stop(ctx, sess.ID))
	first, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, first.Status)
	assert.NotZero(t, first.EndedAt)
	assert.Greater(t, first.UpdatedAt, sess.UpdatedAt, "status writes bump updatedAt")

	// A second stop (or a racing auto-expire) is a no-op.
	fc.Advance(time.Second)
	require.NoError(t, m.Stop(ctx, sess.ID))
	require.NoError(t, m.AutoExpire(ctx, sess.ID))
	second, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt, second.EndedAt)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestStop_MissingSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Stop(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWatchActive_FiltersByStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "f1", "CS101", 15, 50, nil)
	require.NoError(t, err)
	b, err := m.Create(ctx, "f1", "MATH201", 15, 50, nil)
	require.NoError(t, err)
	require.NoError(t, m.Stop(ctx, b.ID))

	var got []Session
	sub, err := m.WatchActive(ctx, func(list []Session) { got = list })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestListActive_HidesPastDeadline(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "f1", "CS101", 1, 50, nil)
	require.NoError(t, err)

	list, err := m.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Status may linger active past the deadline; the listing hides it.
	fc.Advance(2 * time.Minute)
	list, err = m.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestScheduler_ExpiresAtDeadlineAndEnqueues(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()
	q := queue.NewInMemory(4)
	sched := NewScheduler(m, fc, q, nil)
	defer sched.Close()

	sess, err := m.Create(ctx, "f1", "CS101", 1, 50, nil)
	require.NoError(t, err)
	sched.Track(sess)

	fc.Advance(61 * time.Second)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, queue.MsgReconcile, msg.Type)
		task, err := queue.DecodeReconcileTask(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, task.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a reconcile message")
	}
}

func TestScheduler_ManualStopCancelsCountdown(t *testing.T) {
	m, _, fc := newTestManager(t)
	ctx := context.Background()
	q := queue.NewInMemory(4)
	sched := NewScheduler(m, fc, q, nil)
	defer sched.Close()

	sess, err := m.Create(ctx, "f1", "CS101", 1, 50, nil)
	require.NoError(t, err)
	sched.Track(sess)

	require.NoError(t, m.Stop(ctx, sess.ID))
	sched.SessionStopped(ctx, sess.ID, nil)

	// Deadline passing afterwards must not enqueue a second message.
	fc.Advance(5 * time.Minute)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	count := 0
drain:
	for {
		select {
		case <-msgs:
			count++
		case <-time.After(50 * time.Millisecond):
			break drain
		}
	}
	assert.Equal(t, 1, count, "exactly one reconcile message after manual stop")
}
