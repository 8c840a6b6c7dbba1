package main

import (
	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = eris.New("another outreach run is in progress")

// acquireLock takes the single-instance file lock at path without blocking.
func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "lock %s", path)
	}
	if !ok {
		return nil, eris.Wrapf(ErrLocked, "lock %s", path)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		zap.L().Warn("release run lock", zap.String("path", lock.Path()), zap.Error(err))
	}
}
