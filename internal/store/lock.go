package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned when another process holds the run lock.
var ErrRunInProgress = errors.New("another discovery run is in progress")

// RunLock guarantees one discovery run at a time against a database.
type RunLock struct {
	fl *flock.Flock
}

// AcquireRunLock takes an exclusive, non-blocking lock on path.
func AcquireRunLock(path string) (*RunLock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrRunInProgress)
	}
	return &RunLock{fl: fl}, nil
}

// Release frees the lock.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
