package rtstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/errs"
)

// Memory is an in-process Store used for development and tests. Listener
// callbacks are delivered synchronously, outside the store lock, in the
// order writes were applied.
type Memory struct {
	clock clock.Clock
	log   *zap.Logger

	mu       sync.Mutex
	docs     map[string]Doc
	nextID   int
	docSubs  map[string]map[int]*memSub
	colSubs  map[string]map[int]*memSub
	lastTime int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(c clock.Clock, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		clock:   c,
		log:     log,
		docs:    make(map[string]Doc),
		docSubs: make(map[string]map[int]*memSub),
		colSubs: make(map[string]map[int]*memSub),
	}
}

type memSub struct {
	store      *Memory
	id         int
	path       string // doc subscriptions
	collection string // collection subscriptions
	query      Query
	docFn      func(Snapshot)
	colFn      func([]Snapshot)
}

func (s *memSub) Unsubscribe() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.path != "" {
		delete(s.store.docSubs[s.path], s.id)
	}
	if s.collection != "" {
		delete(s.store.colSubs[s.collection], s.id)
	}
}

// Set creates or merges the document at path. ServerTimestamp sentinels
// resolve to the store clock as epoch milliseconds, monotonic per store.
func (m *Memory) Set(ctx context.Context, path string, fields Doc, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	cur, exists := m.docs[path]
	next := make(Doc)
	if merge && exists {
		for k, v := range cur {
			next[k] = v
		}
	}
	for k, v := range fields {
		if _, isSentinel := v.(serverTimestamp); isSentinel {
			next[k] = m.serverMillisLocked()
			continue
		}
		next[k] = v
	}
	m.docs[path] = next
	notify := m.collectNotificationsLocked(path)
	m.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Delete removes the document at path and everything nested under it.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	prefix := path + "/"
	removed := []string{}
	if _, ok := m.docs[path]; ok {
		removed = append(removed, path)
	}
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			removed = append(removed, p)
		}
	}
	var notify []func()
	for _, p := range removed {
		delete(m.docs, p)
	}
	for _, p := range removed {
		notify = append(notify, m.collectNotificationsLocked(p)...)
	}
	m.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Get reads one document.
func (m *Memory) Get(ctx context.Context, path string) (Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyDoc(doc), nil
}

// WatchDoc registers a document listener and fires it with the current
// snapshot before returning.
func (m *Memory) WatchDoc(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.nextID++
	sub := &memSub{store: m, id: m.nextID, path: path, docFn: fn}
	if m.docSubs[path] == nil {
		m.docSubs[path] = make(map[int]*memSub)
	}
	m.docSubs[path][sub.id] = sub
	snap := m.snapshotLocked(path)
	m.mu.Unlock()

	fn(snap)
	return sub, nil
}

// WatchCollection registers a collection listener and fires it with the
// current member list before returning.
func (m *Memory) WatchCollection(ctx context.Context, collection string, q Query, fn func([]Snapshot), onErr func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.nextID++
	sub := &memSub{store: m, id: m.nextID, collection: collection, query: q, colFn: fn}
	if m.colSubs[collection] == nil {
		m.colSubs[collection] = make(map[int]*memSub)
	}
	m.colSubs[collection][sub.id] = sub
	list := m.listLocked(collection, q)
	m.mu.Unlock()

	fn(list)
	return sub, nil
}

// serverMillisLocked hands out store timestamps that never move backwards
// even if two writes land in the same millisecond.
func (m *Memory) serverMillisLocked() int64 {
	ms := m.clock.Now().UnixMilli()
	if ms <= m.lastTime {
		ms = m.lastTime + 1
	}
	m.lastTime = ms
	return ms
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	doc, ok := m.docs[path]
	snap := Snapshot{Path: path, ID: DocID(path), Exists: ok}
	if ok {
		snap.Data = copyDoc(doc)
	}
	return snap
}

func (m *Memory) listLocked(collection string, q Query) []Snapshot {
	prefix := collection + "/"
	snaps := []Snapshot{}
	for p, doc := range m.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(p[len(prefix):], "/") {
			continue
		}
		if q.whereField != "" && !equalValue(doc[q.whereField], q.whereValue) {
			continue
		}
		snaps = append(snaps, Snapshot{Path: p, ID: DocID(p), Exists: true, Data: copyDoc(doc)})
	}
	if q.orderField != "" {
		SortSnapshots(snaps, q.orderField, q.desc)
	} else {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	}
	if q.limit > 0 && len(snaps) > q.limit {
		snaps = snaps[:q.limit]
	}
	return snaps
}

// collectNotificationsLocked builds the callback batch for a change at path.
func (m *Memory) collectNotificationsLocked(path string) []func() {
	var out []func()
	snap := m.snapshotLocked(path)
	for _, sub := range m.docSubs[path] {
		fn := sub.docFn
		out = append(out, func() { fn(snap) })
	}
	col := ParentCollection(path)
	for _, sub := range m.colSubs[col] {
		fn := sub.colFn
		list := m.listLocked(col, sub.query)
		out = append(out, func() { fn(list) })
	}
	return out
}

func copyDoc(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
