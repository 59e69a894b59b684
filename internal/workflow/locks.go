package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// instanceLocks serializes transitions per instance within the process.
// Entries are reference counted and dropped when no caller holds or waits
// on them.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*instanceLock
}

type instanceLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[string]*instanceLock)}
}

type heldKey struct{}

// held returns the set of instance ids locked by the calling chain.
func held(ctx context.Context) map[string]bool {
	h, _ := ctx.Value(heldKey{}).(map[string]bool)
	return h
}

// acquire locks id, waiting until it is free or ctx is done. It returns a
// context marking id as held, for re-entrancy detection, and the release
// function. A caller that already holds id gets a ConcurrencyError instead
// of deadlocking.
func (l *instanceLocks) acquire(ctx context.Context, id string) (context.Context, func(), error) {
	if held(ctx)[id] {
		return nil, nil, &ConcurrencyError{InstanceID: id, Reentrant: true}
	}

	l.mu.Lock()
	lk := l.locks[id]
	if lk == nil {
		lk = &instanceLock{sem: semaphore.NewWeighted(1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.unref(id, lk)
		return nil, nil, err
	}

	next := make(map[string]bool, len(held(ctx))+1)
	for k := range held(ctx) {
		next[k] = true
	}
	next[id] = true

	release := func() {
		lk.sem.Release(1)
		l.unref(id, lk)
	}
	return context.WithValue(ctx, heldKey{}, next), release, nil
}

func (l *instanceLocks) unref(id string, lk *instanceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

// size returns the number of live lock entries.
func (l *instanceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
