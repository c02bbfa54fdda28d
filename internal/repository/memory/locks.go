package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"golang.org/x/sync/semaphore"
)

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// keyedLocks hands out one binary semaphore per lock key. Entries are dropped once
// nobody holds or waits on them, so the map only grows with live contention.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[appointment.LockKey]*lockEntry
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[appointment.LockKey]*lockEntry)}
}

func (l *keyedLocks) ref(key appointment.LockKey) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *keyedLocks) unref(key appointment.LockKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// acquire takes every key in the given order. keys must already be sorted.
// On failure nothing stays held. A deadline on ctx surfaces as ErrBusy.
func (l *keyedLocks) acquire(ctx context.Context, keys []appointment.LockKey) (func(), error) {
	type heldLock struct {
		key   appointment.LockKey
		entry *lockEntry
	}
	held := make([]heldLock, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].entry.sem.Release(1)
			l.unref(held[i].key)
		}
	}

	for _, key := range keys {
		e := l.ref(key)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			l.unref(key)
			release()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, appointment.ErrBusy
			}
			return nil, err
		}
		held = append(held, heldLock{key: key, entry: e})
	}

	return release, nil
}

func (l *keyedLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
