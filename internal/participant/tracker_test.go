package participant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
	"focusattend/internal/geo"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

func newFixture(t *testing.T) (*Tracker, *session.Manager, rtstore.Store, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := rtstore.NewMemory(fc, nil)
	mgr := session.NewManager(store, fc, nil)
	return NewTracker(store, nil), mgr, store, fc
}

func mustCreate(t *testing.T, mgr *session.Manager) session.Session {
	t.Helper()
	sess, err := mgr.Create(context.Background(), "owner-1", "standup", 30, 100, &geo.Point{Lat: 10, Lng: 20})
	require.NoError(t, err)
	return sess
}

func TestJoin_CreatesRecordWithDefaults(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)

	img := "img-123"
	p, err := tr.Join(context.Background(), sess.ID, "u1", Profile{
		DisplayName:   "Ada",
		ContactHandle: "ada@example.com",
		ImageRef:      &img,
	}, &geo.Point{Lat: 10.001, Lng: 20})
	require.NoError(t, err)

	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, StatusPresent, p.Status)
	assert.True(t, p.Present)
	assert.False(t, p.CodeVerified)
	assert.NotZero(t, p.JoinedAt)
	require.NotNil(t, p.ImageRef)
	assert.Equal(t, "img-123", *p.ImageRef)
	require.NotNil(t, p.Location)
	assert.InDelta(t, 10.001, p.Location.Lat, 1e-9)
}

func TestJoin_RejectsEndedSession(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	require.NoError(t, mgr.Stop(context.Background(), sess.ID))

	_, err := tr.Join(context.Background(), sess.ID, "u1", Profile{DisplayName: "Ada"}, nil)
	assert.ErrorIs(t, err, errs.ErrSessionEnded)
}

func TestJoin_UnknownSession(t *testing.T) {
	tr, _, _, _ := newFixture(t)
	_, err := tr.Join(context.Background(), "nope", "u1", Profile{}, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestJoin_RejoinKeepsJoinedAt(t *testing.T) {
	tr, mgr, _, fc := newFixture(t)
	sess := mustCreate(t, mgr)

	first, err := tr.Join(context.Background(), sess.ID, "u1", Profile{DisplayName: "Ada"}, nil)
	require.NoError(t, err)

	fc.Advance(5 * time.Second)
	second, err := tr.Join(context.Background(), sess.ID, "u1", Profile{DisplayName: "Ada L."}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.JoinedAt, second.JoinedAt)
	assert.Equal(t, "Ada L.", second.DisplayName)
}

func TestJoin_RejoinDoesNotResurrectAbsent(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	_, err := tr.Join(ctx, sess.ID, "u1", Profile{DisplayName: "Ada"}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.MarkAbsent(ctx, sess.ID, "u1", ReasonExited))

	p, err := tr.Join(ctx, sess.ID, "u1", Profile{DisplayName: "Ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, p.Status)
	assert.False(t, p.Present)
	assert.True(t, p.ExitedEarly)
}

func TestMarkVerified(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	_, err := tr.Join(ctx, sess.ID, "u1", Profile{}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.MarkVerified(ctx, sess.ID, "u1"))

	p, err := tr.Get(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.True(t, p.CodeVerified)
	assert.NotZero(t, p.CodeVerifiedAt)
	assert.Equal(t, StatusPresent, p.Status)
}

func TestMarkAbsent_Reasons(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	for uid, reason := range map[string]AbsenceReason{
		"u-timeout":  ReasonTimeout,
		"u-exceeded": ReasonExceeded,
		"u-exited":   ReasonExited,
	} {
		_, err := tr.Join(ctx, sess.ID, uid, Profile{}, nil)
		require.NoError(t, err)
		require.NoError(t, tr.MarkAbsent(ctx, sess.ID, uid, reason))
	}

	p, err := tr.Get(ctx, sess.ID, "u-timeout")
	require.NoError(t, err)
	assert.True(t, p.CodeTimeoutAbsent)
	assert.False(t, p.CodeAttemptsExceeded)
	assert.True(t, p.ExitedEarly)
	assert.NotZero(t, p.ExitedAt)

	p, err = tr.Get(ctx, sess.ID, "u-exceeded")
	require.NoError(t, err)
	assert.True(t, p.CodeAttemptsExceeded)

	p, err = tr.Get(ctx, sess.ID, "u-exited")
	require.NoError(t, err)
	assert.True(t, p.ExitedEarly)
	assert.NotZero(t, p.ExitedAt)
}

func TestMarkAbsent_UnknownReason(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	err := tr.MarkAbsent(context.Background(), sess.ID, "u1", AbsenceReason("vanished"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestList_ReturnsRoster(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	for _, uid := range []string{"u1", "u2", "u3"} {
		_, err := tr.Join(ctx, sess.ID, uid, Profile{DisplayName: uid}, nil)
		require.NoError(t, err)
	}

	roster, err := tr.List(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 3)
}

func TestSubscribe_DeliversRosterUpdates(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	var deliveries [][]Participant
	sub, err := tr.Subscribe(ctx, sess.ID, "owner-1", func(roster []Participant) {
		deliveries = append(deliveries, roster)
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Len(t, deliveries, 1)
	assert.Empty(t, deliveries[0])

	_, err = tr.Join(ctx, sess.ID, "u1", Profile{DisplayName: "Ada"}, nil)
	require.NoError(t, err)

	last := deliveries[len(deliveries)-1]
	require.Len(t, last, 1)
	assert.Equal(t, "u1", last[0].UserID)
}

func TestSubscribe_ReplacesPerObserver(t *testing.T) {
	tr, mgr, _, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	var firstCalls, secondCalls int
	_, err := tr.Subscribe(ctx, sess.ID, "owner-1", func([]Participant) { firstCalls++ }, nil)
	require.NoError(t, err)
	sub2, err := tr.Subscribe(ctx, sess.ID, "owner-1", func([]Participant) { secondCalls++ }, nil)
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	baselineFirst := firstCalls
	_, err = tr.Join(ctx, sess.ID, "u1", Profile{}, nil)
	require.NoError(t, err)

	assert.Equal(t, baselineFirst, firstCalls, "replaced subscription must go quiet")
	assert.Greater(t, secondCalls, 1)
}

func TestCountSignal_FiresOnGrowthOnly(t *testing.T) {
	tr, mgr, store, _ := newFixture(t)
	sess := mustCreate(t, mgr)
	ctx := context.Background()

	var fired []int
	cs, err := NewCountSignal(ctx, store, sess.ID, func(n int) { fired = append(fired, n) })
	require.NoError(t, err)
	defer cs.Stop()

	// Initial empty delivery seeds the baseline without firing.
	assert.Empty(t, fired)

	_, err = tr.Join(ctx, sess.ID, "u1", Profile{}, nil)
	require.NoError(t, err)
	_, err = tr.Join(ctx, sess.ID, "u2", Profile{}, nil)
	require.NoError(t, err)

	// Status updates keep the count flat and must not fire.
	require.NoError(t, tr.MarkVerified(ctx, sess.ID, "u1"))

	assert.Equal(t, []int{1, 2}, fired)
}
