package upload

import (
	"errors"
	"os"

	"github.com/gofrs/flock"

	"gramport/internal/apperror"
)

// Lease is an advisory lock on <root>/<id>.lock held while a stage call runs, so
// a second concurrent call for the same session and the janitor both back off.
type Lease struct {
	lock *flock.Flock
}

// AcquireLease takes the session lease without blocking.
func AcquireLease(layout Layout, id string) (*Lease, error) {
	lock := flock.New(layout.LockPath(id))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, apperror.Wrap(apperror.StorageError, "Failed to lock upload", err)
	}
	if !ok {
		return nil, apperror.New(apperror.InvalidState, "Import step already running for this upload")
	}
	return &Lease{lock: lock}, nil
}

// Release unlocks the lease and keeps the lock file.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

// Discard removes the lock file and releases the lease.
func (l *Lease) Discard() error {
	if l == nil || l.lock == nil {
		return nil
	}
	err := os.Remove(l.lock.Path())
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if unlockErr := l.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// tryLease attempts to take an existing lock file. held is true when another
// holder owns it; release must be called when held is false.
func tryLease(path string) (release func(), held bool) {
	if _, err := os.Stat(path); err != nil {
		return func() {}, false
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return func() {}, true
	}
	return func() { _ = lock.Unlock() }, false
}
