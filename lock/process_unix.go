//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive reports whether a pid designates a running process on this
// host.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else
	return errors.Is(err, unix.EPERM)
}
