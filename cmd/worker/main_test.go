package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/participant"
	"focusattend/internal/queue"
	"focusattend/internal/reconcile"
	"focusattend/internal/record"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

type memRecords struct {
	recs []record.Record
}

func (m *memRecords) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	m.recs = append(m.recs, rec)
	return rec, nil
}

func TestHandleMessage_ReconcilesEndedSession(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := rtstore.NewMemory(fc, nil)
	tracker := participant.NewTracker(store, nil)
	mgr := session.NewManager(store, fc, nil)
	recs := &memRecords{}
	engine := reconcile.NewEngine(store, tracker, mgr, recs, nil)
	log := zap.NewNop()

	sess, err := mgr.Create(ctx, "owner-1", "standup", 30, 100, nil)
	require.NoError(t, err)
	_, err = tracker.Join(ctx, sess.ID, "u1", participant.Profile{DisplayName: "Ada"}, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(ctx, sess.ID))

	msg, err := queue.NewReconcileMessage(queue.ReconcileTask{SessionID: sess.ID})
	require.NoError(t, err)

	handleMessage(ctx, engine, msg, log)
	require.Len(t, recs.recs, 1)
	assert.Equal(t, sess.ID, recs.recs[0].SessionID)
	require.Len(t, recs.recs[0].Summary, 1)
	assert.Equal(t, "u1", recs.recs[0].Summary[0].UserID)

	// A duplicate message finds no session document and is a no-op.
	handleMessage(ctx, engine, msg, log)
	assert.Len(t, recs.recs, 1)

	// Foreign message types and undecodable payloads are skipped.
	handleMessage(ctx, engine, queue.Message{Type: "other", Body: []byte("x")}, log)
	handleMessage(ctx, engine, queue.Message{Type: queue.MsgReconcile, Body: []byte("{")}, log)
	assert.Len(t, recs.recs, 1)
}
