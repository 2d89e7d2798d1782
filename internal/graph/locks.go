package graph

import (
	"context"
	"sync"
)

// keyLocks serializes writers contending on the same logical resource.
// Locks are named: canonical-object locks use "obj|<canonical_id>" and
// create-time upsert locks use "obj-upsert|<branch>|<type>|<key>". Entries
// are created on first use and removed once the last waiter releases, so
// the registry stays proportional to in-flight writes.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	token chan struct{} // capacity 1; holding the token means holding the lock
	refs  int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the named lock is free or ctx is done. The returned
// release function must be called exactly once; calling it more than once
// is a no-op.
func (kl *keyLocks) Acquire(ctx context.Context, name string) (release func(), err error) {
	kl.mu.Lock()
	e, ok := kl.entries[name]
	if !ok {
		e = &lockEntry{token: make(chan struct{}, 1)}
		kl.entries[name] = e
	}
	e.refs++
	kl.mu.Unlock()

	select {
	case e.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.token
				kl.release(name, e)
			})
		}, nil
	case <-ctx.Done():
		kl.release(name, e)
		return nil, ctx.Err()
	}
}

func (kl *keyLocks) release(name string, e *lockEntry) {
	kl.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(kl.entries, name)
	}
	kl.mu.Unlock()
}

func objectLockName(canonicalID string) string {
	return "obj|" + canonicalID
}

func upsertLockName(branchID, objectType, objectKey string) string {
	return "obj-upsert|" + branchID + "|" + objectType + "|" + objectKey
}
