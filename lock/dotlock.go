package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultStaleAge is how old an NFS dotlock may grow before it is
// considered abandoned by a crashed holder on another host.
const DefaultStaleAge = 5 * time.Minute

// Dotlock implements locking with a sentinel file created with O_EXCL
// next to the target. It is portable across filesystems, including those
// without advisory locking, but a plain dotlock leaks when the holder
// crashes: use the NFS-safe variant to reclaim stale sentinels.
type Dotlock struct {
	target   string
	path     string
	config   Config
	held     bool
	stamped  bool
	staleAge time.Duration
}

// NewDotlock returns a plain dotlock guarding target.
func NewDotlock(target string, config Config) *Dotlock {
	return &Dotlock{
		target: target,
		path:   target + ".lock",
		config: config,
	}
}

// NewNFSDotlock returns a dotlock that stamps the sentinel with
// "host:pid:time" and reclaims it when the claimed owner is a dead
// process on this host, or when the stamp is older than DefaultStaleAge.
func NewNFSDotlock(target string, config Config) *Dotlock {
	lock := NewDotlock(target, config)
	lock.stamped = true
	lock.staleAge = DefaultStaleAge
	return lock
}

// Path returns the sentinel file path.
func (l *Dotlock) Path() string {
	return l.path
}

func (l *Dotlock) Lock() (bool, error) {
	if l.held {
		return true, nil
	}
	ok, err := acquire(l.config, l.try)
	if ok {
		l.held = true
	}
	return ok, err
}

func (l *Dotlock) try() (bool, error) {
	ok, err := l.create()
	if ok || err != nil {
		return ok, err
	}
	if l.stamped && l.reclaimStale() {
		return l.create()
	}
	return false, nil
}

func (l *Dotlock) create() (bool, error) {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if l.stamped {
		_, err = file.WriteString(l.stamp())
		if err != nil {
			_ = file.Close()
			_ = os.Remove(l.path)
			return false, err
		}
	}
	return true, file.Close()
}

func (l *Dotlock) stamp() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%d\n", host, os.Getpid(), time.Now().Unix())
}

// reclaimStale reports whether an abandoned sentinel was removed.
func (l *Dotlock) reclaimStale() bool {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	host, pid, when, err := parseStamp(string(content))
	if err != nil {
		// unreadable stamp: fall back to the file age
		info, err := os.Stat(l.path)
		if err != nil || time.Since(info.ModTime()) < l.staleAge {
			return false
		}
		l.config.logger().Printf("dotlock: removing unreadable stale lock %q", l.path)
		return os.Remove(l.path) == nil
	}
	ourHost, _ := os.Hostname()
	if host == ourHost && !processAlive(pid) {
		l.config.logger().Printf("dotlock: removing lock %q held by dead pid %d", l.path, pid)
		return os.Remove(l.path) == nil
	}
	if time.Since(when) >= l.staleAge {
		l.config.logger().Printf("dotlock: removing lock %q stamped %v ago", l.path, time.Since(when))
		return os.Remove(l.path) == nil
	}
	return false
}

func parseStamp(content string) (host string, pid int, when time.Time, err error) {
	parts := strings.Split(strings.TrimSpace(content), ":")
	if len(parts) != 3 {
		return "", 0, time.Time{}, fmt.Errorf("malformed lock stamp %q", content)
	}
	pid, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed lock stamp %q", content)
	}
	seconds, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed lock stamp %q", content)
	}
	return parts[0], pid, time.Unix(seconds, 0), nil
}

func (l *Dotlock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Dotlock) HasLock() bool {
	return l.held
}

// IsLocked probes by attempting a trial create and removing it on
// success.
func (l *Dotlock) IsLocked() (bool, error) {
	if l.held {
		return true, nil
	}
	ok, err := l.create()
	if err != nil {
		return false, err
	}
	if ok {
		return false, os.Remove(l.path)
	}
	return true, nil
}
