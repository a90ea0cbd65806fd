// Package keylock provides per-key mutual exclusion so read-modify-write sequences on one
// principal are serialized without a process-wide lock. Unrelated keys never contend.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// Locker hands out one lock per key. Entries are reference counted and dropped when unused.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. On success the returned func
// releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently locked or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
