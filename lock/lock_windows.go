//go:build windows

package lock

import "fmt"

func newFlock(target string, config Config) (Locker, error) {
	return nil, fmt.Errorf("%w: flock", ErrUnsupported)
}

func newFcntl(target string, config Config) (Locker, error) {
	return nil, fmt.Errorf("%w: fcntl", ErrUnsupported)
}

// processAlive cannot be verified on Windows; stale dotlocks are only
// reclaimed by age.
func processAlive(pid int) bool {
	return true
}
