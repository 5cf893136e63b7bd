package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
)

func TestMemoryAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.Acquire(ctx, "scheduler", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true", ok, err)
	}

	// Reacquire by the holder extends the lease.
	ok, err = m.Acquire(ctx, "scheduler", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire = %v, %v, want true", ok, err)
	}

	if err := m.Release(ctx, "scheduler"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestMemoryExcludesOtherOwners(t *testing.T) {
	ctx := context.Background()
	a := NewMemory()

	if ok, _ := a.Acquire(ctx, "scheduler", time.Minute); !ok {
		t.Fatal("first Acquire should succeed")
	}

	b := NewMemory()
	b.leases = a.leases // share the lease table to simulate two instances
	if ok, _ := b.Acquire(ctx, "scheduler", time.Minute); ok {
		t.Fatal("second owner acquired a live lease")
	}

	if err := b.Release(ctx, "scheduler"); !errors.Is(err, disparo.ErrLockNotHeld) {
		t.Fatalf("Release by non-holder = %v, want ErrLockNotHeld", err)
	}
}

func TestMemoryExpiredLeaseIsTakeable(t *testing.T) {
	ctx := context.Background()
	a := NewMemory()
	if ok, _ := a.Acquire(ctx, "scheduler", -time.Second); !ok {
		t.Fatal("Acquire should succeed")
	}

	b := NewMemory()
	b.leases = a.leases
	if ok, _ := b.Acquire(ctx, "scheduler", time.Minute); !ok {
		t.Fatal("expired lease should be takeable by a new owner")
	}
}

func TestMemoryReleaseWithoutHold(t *testing.T) {
	m := NewMemory()
	if err := m.Release(context.Background(), "scheduler"); !errors.Is(err, disparo.ErrLockNotHeld) {
		t.Fatalf("Release = %v, want ErrLockNotHeld", err)
	}
}
