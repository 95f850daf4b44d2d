package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotOwned is returned when extending a lock that has expired or was
// taken over by another holder.
var ErrNotOwned = errors.New("distlock: lock not owned")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks whose lease can be renewed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker hands out locks by key.
type Locker interface {
	NewLock(key string, ttl time.Duration) DistLock
}

// NewLocker uses Redis when a client is given (cross-host locking) and
// falls back to an in-process lock table otherwise.
func NewLocker(client redis.UniversalClient) Locker {
	if client != nil {
		return &RedisLocker{client: client}
	}
	return NewLocalLocker()
}

// RedisLocker creates RedisLocks on a shared client.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewLock implements Locker.
func (r *RedisLocker) NewLock(key string, ttl time.Duration) DistLock {
	return NewRedisLock(r.client, key, ttl)
}

// =============================================================================
// In-process lock (fallback when Redis is unavailable)
// =============================================================================
// Only excludes holders within the same process. Enough for a single
// server or CLI invocation sharing a SQLite store.

// LocalLocker is a table of held keys.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty lock table.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// NewLock implements Locker. The ttl is ignored; the lock lives until
// Release.
func (l *LocalLocker) NewLock(key string, _ time.Duration) DistLock {
	return &localLock{table: l, key: key}
}

type localLock struct {
	table *LocalLocker
	key   string
	owned bool
}

func (l *localLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, taken := l.table.held[l.key]; taken {
		return false, nil
	}
	l.table.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.owned {
		delete(l.table.held, l.key)
		l.owned = false
	}
	return nil
}
