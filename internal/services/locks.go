package services

import (
	"fmt"
	"sync"
)

// lockManager provides keyed mutexes so membership mutations run
// single-writer per group (and per user for join requests). Entries are
// refcounted and removed when the last holder releases, keeping the map
// bounded under churn.
type lockManager struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (lm *lockManager) Lock(key string) func() {
	lm.mu.Lock()
	kl, ok := lm.locks[key]
	if !ok {
		kl = &keyedLock{}
		lm.locks[key] = kl
	}
	kl.refs++
	lm.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		lm.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(lm.locks, key)
		}
		lm.mu.Unlock()
	}
}

func groupKey(groupID uint) string { return fmt.Sprintf("group:%d", groupID) }
func userKey(userID uint) string   { return fmt.Sprintf("user:%d", userID) }
