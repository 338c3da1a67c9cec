package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"
)

const pollInterval = 100 * time.Millisecond

// FileLocker implements Locker with exclusive lock files in a shared
// directory. A lock file named <algorithm>-<hex>.lock holds the owner's pid.
// Works across processes sharing the directory.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker rooted at dir. The directory is created if
// it does not exist.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) AcquireLock(ctx context.Context, key digest.Digest) (Lock, error) {
	lockPath := filepath.Join(l.dir, key.Algorithm().String()+"-"+key.Hex()+".lock")

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			if cErr := f.Close(); cErr != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("write lock file: %w", cErr)
			}
			return &fileLock{path: lockPath}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

type fileLock struct {
	path string
}

func (l *fileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
