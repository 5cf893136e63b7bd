// Package lock provides a distributed lease used to keep a single
// active scheduler when several instances of the service run at once.
// The Redis implementation is the production one; the in-memory
// implementation serves single-process deployments and tests.
package lock

import (
	"context"
	"sync"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// Locker grants time-bound exclusive ownership of named keys. Acquire
// is reentrant for the holder: calling it again while the lease is live
// extends the TTL.
type Locker interface {
	// Acquire attempts to take or extend the lease on key. Returns true
	// when this locker now holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lease if this locker holds it. Returns
	// disparo.ErrLockNotHeld when it does not.
	Release(ctx context.Context, key string) error
}

// Memory is a process-local Locker.
type Memory struct {
	mu     sync.Mutex
	owner  string
	leases map[string]memoryLease
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// NewMemory creates an in-process Locker with a unique owner identity.
func NewMemory() *Memory {
	return &Memory{
		owner:  id.NewWorkerID().String(),
		leases: make(map[string]memoryLease),
	}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	lease, ok := m.leases[key]
	if ok && lease.owner != m.owner && now.Before(lease.expiresAt) {
		return false, nil
	}

	m.leases[key] = memoryLease{owner: m.owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[key]
	if !ok || lease.owner != m.owner || time.Now().After(lease.expiresAt) {
		return disparo.ErrLockNotHeld
	}
	delete(m.leases, key)
	return nil
}
