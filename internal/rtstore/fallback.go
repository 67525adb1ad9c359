package rtstore

import "sync"

// fallbackSub wraps whichever underlying subscription is currently live for
// WatchWithFallback: the primary ordered watch, or its unordered fallback.
type fallbackSub struct {
	mu       sync.Mutex
	cur      Subscription
	fellBack bool
	closed   bool
}

// swap installs s as the live subscription, tearing down the previous one.
// Callers hold f.mu.
func (f *fallbackSub) swap(s Subscription) {
	if f.cur != nil {
		f.cur.Unsubscribe()
	}
	f.cur = s
}

// install sets the primary only when no fallback raced ahead of it. Callers
// hold f.mu.
func (f *fallbackSub) install(primary Subscription) {
	if f.fellBack || f.closed {
		primary.Unsubscribe()
		return
	}
	f.cur = primary
}

func (f *fallbackSub) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cur != nil {
		f.cur.Unsubscribe()
		f.cur = nil
	}
}
