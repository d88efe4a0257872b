// Package lock provides short-lived exclusive locks used to serialize guard
// decisions on the same QR code across gates and server replicas.
package lock

import (
	"context"
	"time"
)

// Locker acquires and releases named locks that expire on their own
type Locker interface {
	// Acquire returns false without error when another holder owns key
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// DecisionKey is the lock name for decisions on one token hash
func DecisionKey(hash string) string {
	return "gatepass:decision:" + hash
}
