// ABOUTME: Bounded, TTL-based window of recently seen keys for broker redelivery suppression.
// ABOUTME: Expiry is lazy (on access), so the window owns no goroutines and needs no Close.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Window remembers keys for a fixed TTL, keeping at most maxSize of them.
// The oldest key is evicted first when the window is full.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a window. A non-positive maxSize means unbounded.
func New(ttl time.Duration, maxSize int) *Window {
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

// Seen reports whether key is currently inside the window.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	_, ok := w.index[key]
	return ok
}

// Observe records key and reports whether it was already inside the window.
// The check and the insert happen under one lock, so concurrent observers of
// the same key see exactly one false.
func (w *Window) Observe(key string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	if elem, ok := w.index[key]; ok {
		elem.Value.(*entry).seenAt = w.now()
		w.order.MoveToBack(elem)
		return true
	}

	if w.maxSize > 0 && w.order.Len() >= w.maxSize {
		w.evictLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, seenAt: w.now()})
	return false
}

// Forget removes key from the window.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if elem, ok := w.index[key]; ok {
		w.evictLocked(elem)
	}
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	return w.order.Len()
}

// expireLocked drops keys older than the TTL. Observe moves refreshed keys
// to the back, so the list stays sorted by seenAt and the scan stops at the
// first live entry.
func (w *Window) expireLocked() {
	if w.ttl <= 0 {
		return
	}
	cutoff := w.now().Add(-w.ttl)
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if front.Value.(*entry).seenAt.After(cutoff) {
			return
		}
		w.evictLocked(front)
	}
}

func (w *Window) evictLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	w.order.Remove(elem)
	delete(w.index, elem.Value.(*entry).key)
}
