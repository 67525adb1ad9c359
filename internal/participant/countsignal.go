package participant

import (
	"context"
	"sync"

	"focusattend/internal/rtstore"
)

// CountSignal watches a session's roster size and fires once for every
// observed increase, carrying the new total. Decreases (the cascade delete
// at finalize) silently reset the baseline so a later session reusing the
// observer does not fire spuriously.
type CountSignal struct {
	sub rtstore.Subscription

	mu   sync.Mutex
	prev int
	init bool
}

// NewCountSignal starts watching. The first delivery only seeds the
// baseline; fn fires from the second delivery on, and only on growth.
func NewCountSignal(ctx context.Context, store rtstore.Store, sessionID string, fn func(count int)) (*CountSignal, error) {
	cs := &CountSignal{}
	sub, err := store.WatchCollection(ctx, CollectionPath(sessionID), rtstore.Query{}, func(snaps []rtstore.Snapshot) {
		n := len(snaps)
		cs.mu.Lock()
		grew := cs.init && n > cs.prev
		cs.init = true
		cs.prev = n
		cs.mu.Unlock()
		if grew {
			fn(n)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	cs.sub = sub
	return cs, nil
}

// Stop tears down the watch.
func (cs *CountSignal) Stop() {
	if cs.sub != nil {
		cs.sub.Unsubscribe()
	}
}
