// Package lock serializes concurrent builds of the same image.
package lock

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Locker provides locking keyed by image digest. AcquireLock blocks until the
// lock is held or the context is cancelled.
type Locker interface {
	AcquireLock(ctx context.Context, key digest.Digest) (Lock, error)
}

// Lock is an acquired lock that must be released by the holder.
type Lock interface {
	Release() error
}
