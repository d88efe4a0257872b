package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker for single-replica deployments and tests
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire takes key unless a holder's lease has not yet expired
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.entries[key]; ok && now.Before(until) {
		return false, nil
	}
	l.entries[key] = now.Add(ttl)

	// drop stale leases so the map does not grow with every scanned code
	for k, until := range l.entries {
		if !now.Before(until) {
			delete(l.entries, k)
		}
	}
	return true, nil
}

// Release frees key
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
	return nil
}
