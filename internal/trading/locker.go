package trading

import (
	"context"
	"sort"
	"sync"

	"github.com/ksred/energydesk-api/internal/errs"
)

// refLock is a one-slot semaphore; holding the token means holding the lock
type refLock struct {
	sem  chan struct{}
	refs int
}

// keyedLocker serializes work per trader. Entries are dropped once nobody holds or waits on them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

// Lock acquires every key in sorted order and returns a func releasing them all.
// Duplicate keys are locked once. If ctx ends before every key is held, the keys
// taken so far are released and a transient error is returned.
func (k *keyedLocker) Lock(ctx context.Context, keys ...string) (unlock func(), err error) {
	ordered := uniqueSorted(keys)

	held := make([]*refLock, 0, len(ordered))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
			k.release(ordered[i])
		}
	}

	for _, key := range ordered {
		l := k.acquire(key)
		select {
		case l.sem <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			k.release(key)
			releaseHeld()
			return nil, errs.Transient(ctx.Err(), "timed out waiting for trader %s", key)
		}
	}

	return releaseHeld, nil
}

func (k *keyedLocker) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &refLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocker) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
