package ledger

import "sync"

// ChainLocks hands out one mutex per key. Entries are dropped once no goroutine holds or waits on them.
type ChainLocks struct {
	mu    sync.Mutex
	locks map[string]*chainLock
}

type chainLock struct {
	mu   sync.Mutex
	refs int
}

// NewChainLocks creates an empty lock table
func NewChainLocks() *ChainLocks {
	return &ChainLocks{locks: make(map[string]*chainLock)}
}

// Lock blocks until key is free and returns the function that releases it
func (c *ChainLocks) Lock(key string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &chainLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			c.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(c.locks, key)
			}
			c.mu.Unlock()
		})
	}
}

// Len reports how many keys are currently held or awaited
func (c *ChainLocks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

func chainLockKey(userID, orgID string) string {
	return "chain:" + userID + "|" + orgID
}

// SnapshotLockKey is the lock key serializing snapshot versioning for a (user, org) pair
func SnapshotLockKey(userID, orgID string) string {
	return "snapshot:" + userID + "|" + orgID
}
