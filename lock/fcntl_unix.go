//go:build !windows

package lock

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fcntlLock takes a POSIX byte-range write lock over the whole target
// file. POSIX locks are owned by the process, not the file descriptor:
// two lockers in the same process do not exclude each other, which is
// why the folder layer keeps its own in-process open registry.
type fcntlLock struct {
	target string
	config Config
	file   *os.File
	held   bool
}

func newFcntl(target string, config Config) (Locker, error) {
	return &fcntlLock{
		target: kernelLockTarget(target),
		config: config,
	}, nil
}

func wholeFile(lockType int16) unix.Flock_t {
	return unix.Flock_t{
		Type:   lockType,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}
}

func (l *fcntlLock) Lock() (bool, error) {
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

func (l *fcntlLock) try() (bool, error) {
	if l.file == nil {
		file, err := os.OpenFile(l.target, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return false, err
		}
		l.file = file
	}
	flock := wholeFile(unix.F_WRLCK)
	err := unix.FcntlFlock(l.file.Fd(), unix.F_SETLK, &flock)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	return false, err
}

func (l *fcntlLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	flock := wholeFile(unix.F_UNLCK)
	err := unix.FcntlFlock(l.file.Fd(), unix.F_SETLK, &flock)
	l.closeFile()
	return err
}

func (l *fcntlLock) closeFile() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

func (l *fcntlLock) HasLock() bool {
	return l.held
}

// IsLocked probes with F_GETLK, which reports a conflicting lock without
// taking one.
func (l *fcntlLock) IsLocked() (bool, error) {
	if l.held {
		return true, nil
	}
	file, err := os.OpenFile(l.target, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return false, err
	}
	defer file.Close()

	flock := wholeFile(unix.F_WRLCK)
	err = unix.FcntlFlock(file.Fd(), unix.F_GETLK, &flock)
	if err != nil {
		return false, err
	}
	return flock.Type != unix.F_UNLCK, nil
}
