// Package rtstore abstracts the real-time document store the devices
// coordinate through: create-or-merge writes, point reads, deletes, and live
// subscriptions to single documents or filtered collections. It is the only
// synchronization point between the owner device, participant devices and
// the reconciliation worker.
package rtstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Doc is a stored document: field name to JSON-compatible value.
type Doc map[string]any

// serverTimestamp is the sentinel type behind ServerTimestamp.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be resolved to the store's own clock at
// write time, as epoch milliseconds. Clients never supply these values.
var ServerTimestamp = serverTimestamp{}

// Snapshot is the state of one document at notification time. Exists is
// false when the document was deleted (or never existed).
type Snapshot struct {
	Path   string
	ID     string
	Exists bool
	Data   Doc
}

// Subscription is a live listener handle owned by the caller's lifecycle
// scope. Unsubscribe must be called when the observing context no longer
// needs it; it guarantees no further callbacks.
type Subscription interface {
	Unsubscribe()
}

// Query filters a collection watch. Zero value matches every member.
type Query struct {
	whereField string
	whereValue any
	orderField string
	desc       bool
	limit      int
}

// Where returns a copy filtering on field == value.
func (q Query) Where(field string, value any) Query {
	q.whereField = field
	q.whereValue = value
	return q
}

// OrderBy returns a copy ordered on field.
func (q Query) OrderBy(field string, desc bool) Query {
	q.orderField = field
	q.desc = desc
	return q
}

// Limit returns a copy capped at n members.
func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// WithoutOrder drops ordering but keeps the filter and limit. Used by the
// documented fallback when an ordered subscription cannot be established.
func (q Query) WithoutOrder() Query {
	q.orderField = ""
	q.desc = false
	return q
}

// Store is the real-time document store contract.
type Store interface {
	// Set creates or updates the document at path. With merge, only the
	// provided fields are written; otherwise the document is replaced.
	Set(ctx context.Context, path string, fields Doc, merge bool) error

	// Delete removes the document and every document nested under it, so a
	// session's participants are destroyed together with the session.
	Delete(ctx context.Context, path string) error

	// Get reads one document. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, path string) (Doc, error)

	// WatchDoc fires fn with the current snapshot immediately, then on every
	// create, update or delete of the document.
	WatchDoc(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)

	// WatchCollection fires fn with the full filtered member list
	// immediately, then on any member add or update. Establishment or
	// delivery failures are reported through onErr (may be nil).
	WatchCollection(ctx context.Context, collection string, q Query, fn func([]Snapshot), onErr func(error)) (Subscription, error)
}

// WatchWithFallback subscribes with q and, if the primary subscription
// reports an error, re-subscribes without ordering (keeping the filter) and
// re-sorts the delivered list client-side. The returned subscription always
// tears down whichever underlying watch is live.
func WatchWithFallback(ctx context.Context, s Store, collection string, q Query, fn func([]Snapshot), onErr func(error)) (Subscription, error) {
	fb := &fallbackSub{}
	sorted := func(snaps []Snapshot) {
		if q.orderField != "" {
			SortSnapshots(snaps, q.orderField, q.desc)
		}
		fn(snaps)
	}
	primary, err := s.WatchCollection(ctx, collection, q, fn, func(watchErr error) {
		fb.mu.Lock()
		if fb.closed || fb.fellBack {
			fb.mu.Unlock()
			return
		}
		fb.fellBack = true
		fb.mu.Unlock()
		if onErr != nil {
			onErr(watchErr)
		}
		sub, subErr := s.WatchCollection(ctx, collection, q.WithoutOrder(), sorted, onErr)
		if subErr != nil {
			if onErr != nil {
				onErr(subErr)
			}
			return
		}
		fb.mu.Lock()
		if fb.closed {
			fb.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		fb.swap(sub)
		fb.mu.Unlock()
	})
	if err != nil {
		// Primary could not be established at all: go straight to fallback.
		if onErr != nil {
			onErr(err)
		}
		sub, subErr := s.WatchCollection(ctx, collection, q.WithoutOrder(), sorted, onErr)
		if subErr != nil {
			return nil, subErr
		}
		fb.mu.Lock()
		fb.fellBack = true
		fb.swap(sub)
		fb.mu.Unlock()
		return fb, nil
	}
	fb.mu.Lock()
	fb.install(primary)
	fb.mu.Unlock()
	return fb, nil
}

// DocID returns the last path segment.
func DocID(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParentCollection returns the collection a document path belongs to.
func ParentCollection(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// Encode converts a struct into a Doc via its JSON form.
func Encode(v any) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode fills out from a Doc via its JSON form.
func Decode(d Doc, out any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Millis converts a store timestamp to epoch milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// SortSnapshots orders snaps on field, missing values last.
func SortSnapshots(snaps []Snapshot, field string, desc bool) {
	sort.SliceStable(snaps, func(i, j int) bool {
		less, ok := lessValue(snaps[i].Data[field], snaps[j].Data[field])
		if !ok {
			return false
		}
		if desc {
			return !less
		}
		return less
	})
}

func lessValue(a, b any) (less, ok bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs, true
	}
	// Missing or incomparable values sort last.
	if a == nil && b != nil {
		return false, true
	}
	if a != nil && b == nil {
		return true, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// equalValue compares filter values across the numeric encodings a JSON
// round trip can produce.
func equalValue(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == nil && b == nil
}
