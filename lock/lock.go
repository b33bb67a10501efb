// Package lock provides mutual exclusion over a folder's physical
// container, with one contract across divergent OS mechanisms.
//
// All strategies are advisory: they only exclude other processes that use
// the same strategy on the same path. Guarantees differ per strategy: a
// kernel advisory lock (flock) is reliable on a local filesystem but may
// be silently ignored on network mounts; a sentinel lock file (dotlock)
// works everywhere but leaks when its holder crashes; the NFS-safe
// dotlock stamps the file with owner information to detect and reclaim
// stale locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"golang.org/x/time/rate"
)

// Strategy selects a locking mechanism.
type Strategy string

const (
	// StrategyDotlock creates a sentinel file next to the target with an
	// exclusivity-checking create.
	StrategyDotlock Strategy = "dotlock"
	// StrategyDotlockNFS is a dotlock that stamps the sentinel with
	// host, pid and time, and reclaims stale locks.
	StrategyDotlockNFS Strategy = "dotlock-nfs"
	// StrategyFlock takes a whole-file kernel advisory lock.
	StrategyFlock Strategy = "flock"
	// StrategyFcntl takes a POSIX byte-range lock.
	StrategyFcntl Strategy = "fcntl"
)

var (
	// ErrCannotProbe is returned by IsLocked when the mechanism cannot
	// probe without side effects.
	ErrCannotProbe = errors.New("lock strategy cannot probe")
	// ErrUnsupported is returned when the strategy does not exist on this
	// platform.
	ErrUnsupported = errors.New("lock strategy not supported on this platform")
)

// Locker guards one physical identity.
//
// Lock retries contended acquisitions once per second up to the
// configured timeout. A second Lock call on a held locker is a fast
// no-op returning true. Unlock is safe to call when not held. HasLock
// only reads locally cached state and never touches the OS.
type Locker interface {
	Lock() (bool, error)
	Unlock() error
	HasLock() bool
	// IsLocked probes whether anyone holds the lock, by attempting and
	// immediately releasing a trial lock.
	IsLocked() (bool, error)
}

// Config tunes a locker.
type Config struct {
	// Timeout is the number of one-second retries on contention:
	// 0 means a single attempt, a negative value retries unbounded.
	Timeout int
	// Log receives lock diagnostics, nil for none.
	Log lib.Logger
}

func (c Config) logger() lib.Logger {
	if c.Log == nil {
		return &lib.NoLog{}
	}
	return c.Log
}

// New returns a locker of the given strategy over target.
func New(strategy Strategy, target string, config Config) (Locker, error) {
	switch strategy {
	case StrategyDotlock:
		return NewDotlock(target, config), nil
	case StrategyDotlockNFS:
		return NewNFSDotlock(target, config), nil
	case StrategyFlock:
		return newFlock(target, config)
	case StrategyFcntl:
		return newFcntl(target, config)
	}
	return nil, fmt.Errorf("unknown lock strategy %q", strategy)
}

// kernelLockTarget maps a directory target onto a sentinel file next to
// it: flock and fcntl need a plain file to lock. The ".flock" suffix
// keeps the sentinel clear of the ".lock" file a dotlock would create on
// the same target.
func kernelLockTarget(target string) string {
	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		return filepath.Clean(target) + ".flock"
	}
	return target
}

const retryInterval = time.Second

// acquire runs try until it succeeds, fails with a non-retryable error,
// or the configured retries are spent. try returns (false, nil) on
// contention.
func acquire(config Config, try func() (bool, error)) (bool, error) {
	limiter := rate.NewLimiter(rate.Every(retryInterval), 1)
	// drain the initial token so the first Wait takes a full interval
	_ = limiter.Allow()

	for attempt := 0; ; attempt++ {
		ok, err := try()
		if err != nil {
			// a condition that cannot change: report once, no busy loop
			config.logger().Printf("lock: giving up: %v", err)
			return false, fmt.Errorf("%w: %s", lib.ErrLockFailed, err)
		}
		if ok {
			return true, nil
		}
		if config.Timeout >= 0 && attempt >= config.Timeout {
			return false, nil
		}
		_ = limiter.Wait(context.Background())
	}
}
