//go:build !windows

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// flockLock takes a whole-file kernel advisory lock on the target. Cheap
// and crash-safe on local filesystems; many network filesystems silently
// ignore it.
type flockLock struct {
	target string
	config Config
	file   *os.File
	held   bool
}

func newFlock(target string, config Config) (Locker, error) {
	return &flockLock{
		target: kernelLockTarget(target),
		config: config,
	}, nil
}

func (l *flockLock) Lock() (bool, error) {
	if l.held {
		return true, nil
	}
	ok, err := acquire(l.config, l.try)
	if ok {
		l.held = true
	} else {
		l.closeFile()
	}
	return ok, err
}

func (l *flockLock) try() (bool, error) {
	if l.file == nil {
		file, err := os.OpenFile(l.target, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return false, err
		}
		l.file = file
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	return false, err
}

func (l *flockLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.closeFile()
	return err
}

func (l *flockLock) closeFile() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

func (l *flockLock) HasLock() bool {
	return l.held
}

func (l *flockLock) IsLocked() (bool, error) {
	if l.held {
		return true, nil
	}
	file, err := os.OpenFile(l.target, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return false, err
	}
	defer file.Close()

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return false, unix.Flock(int(file.Fd()), unix.LOCK_UN)
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return true, nil
	}
	return false, err
}
