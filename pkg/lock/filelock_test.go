package lock

import (
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func TestFileLockerAcquireAndRelease(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLocker failed: %v", err)
	}

	key := digest.FromString("base-image")

	held, err := locker.AcquireLock(context.Background(), key)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// a second acquire must block until the first is released
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := locker.AcquireLock(ctx, key); err == nil {
		t.Fatal("second AcquireLock succeeded while lock was held")
	}

	if err := held.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	reacquired, err := locker.AcquireLock(context.Background(), key)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	if err := reacquired.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestFileLockerDifferentKeysDoNotBlock(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLocker failed: %v", err)
	}

	first, err := locker.AcquireLock(context.Background(), digest.FromString("a"))
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer first.Release()

	second, err := locker.AcquireLock(context.Background(), digest.FromString("b"))
	if err != nil {
		t.Fatalf("AcquireLock for different key failed: %v", err)
	}
	defer second.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLocker failed: %v", err)
	}

	held, err := locker.AcquireLock(context.Background(), digest.FromString("x"))
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	if err := held.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := held.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}
