// Package lock serialises backup and restore runs on one host.
package lock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/rowjay/site-backup/internal/errs"
)

// DefaultName is the lock file used when no path is configured.
const DefaultName = "sbu.lock"

type Lock struct {
	file *flock.Flock
}

// Path returns the lock file for a configured path, defaulting to the
// system temp directory.
func Path(configured string) string {
	if configured == "" {
		return filepath.Join(os.TempDir(), DefaultName)
	}
	return configured
}

// Acquire takes the run lock without waiting. A held lock is a resource error.
func Acquire(path string) (*Lock, error) {
	path = Path(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errs.Resource("create lock directory", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errs.Resource("acquire run lock "+path, err)
	}
	if !ok {
		return nil, errs.New(errs.KindResource, "another backup or restore is already running (lock: "+path+")", nil)
	}
	return &Lock{file: fl}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
