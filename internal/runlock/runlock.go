// Package runlock serializes pipeline runs per user with advisory file locks.
package runlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
)

// Locker hands out one lock file per user under dir.
type Locker struct {
	dir string
}

// compile-time interface assertion
var _ ports.RunLocker = (*Locker)(nil)

// New returns a Locker rooted at dir. The directory is created on first use.
func New(dir string) *Locker {
	return &Locker{dir: dir}
}

// Acquire takes the user's lock without blocking. If another process or
// goroutine holds it, the error wraps domain.ErrConcurrentRun.
func (l *Locker) Acquire(ctx context.Context, userID string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := l.Path(userID)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("user %s: lock %s held: %w", userID, path, domain.ErrConcurrentRun)
	}

	return lock.Unlock, nil
}

// Path returns the lock file used for userID.
func (l *Locker) Path(userID string) string {
	return filepath.Join(l.dir, "run-"+sanitize(userID)+".lock")
}

func sanitize(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
