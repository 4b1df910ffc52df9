package middleware

import (
	"sync"
	"time"
)

// Option configures the in-memory limiters in this package.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Tests use it to step through windows
// and lock periods without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// keyedTable is a map of per-key state where each entry carries its own
// lock. The map lock is only held to find or unlink an entry, so work on one
// key never blocks another.
//
// Lock order is entry then map. An entry removed from the map is marked dead
// so a caller that fetched it just before removal retries with a fresh one.
type keyedTable[E any] struct {
	mu      sync.Mutex
	entries map[string]*tableEntry[E]
}

type tableEntry[E any] struct {
	mu   sync.Mutex
	dead bool
	val  E
}

func newKeyedTable[E any]() *keyedTable[E] {
	return &keyedTable[E]{entries: make(map[string]*tableEntry[E])}
}

// update runs fn with key's entry locked, creating the entry if create is
// set. fn returns true to delete the entry. update reports whether fn ran.
func (t *keyedTable[E]) update(key string, create bool, fn func(val *E) (remove bool)) bool {
	for {
		t.mu.Lock()
		e, ok := t.entries[key]
		if !ok {
			if !create {
				t.mu.Unlock()
				return false
			}
			e = &tableEntry[E]{}
			t.entries[key] = e
		}
		t.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if fn(&e.val) {
			t.unlinkLocked(key, e)
		}
		e.mu.Unlock()
		return true
	}
}

// sweep snapshots the table, then visits each entry under its own lock and
// deletes those for which expired returns true. It returns the number of
// entries removed.
func (t *keyedTable[E]) sweep(expired func(val *E) bool) int {
	t.mu.Lock()
	snapshot := make(map[string]*tableEntry[E], len(t.entries))
	for k, e := range t.entries {
		snapshot[k] = e
	}
	t.mu.Unlock()

	removed := 0
	for key, e := range snapshot {
		e.mu.Lock()
		if !e.dead && expired(&e.val) {
			t.unlinkLocked(key, e)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// unlinkLocked must be called with e.mu held.
func (t *keyedTable[E]) unlinkLocked(key string, e *tableEntry[E]) {
	e.dead = true
	t.mu.Lock()
	if t.entries[key] == e {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

func (t *keyedTable[E]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
