//go:build !windows

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlockMutualExclusion(t *testing.T) {
	target := testTarget(t)
	first, err := New(StrategyFlock, target, Config{Log: lib.NewTestLogger(t, "first")})
	require.NoError(t, err)
	second, err := New(StrategyFlock, target, Config{Log: lib.NewTestLogger(t, "second")})
	require.NoError(t, err)

	ok, err := first.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	// flock is taken per open file description, so a second instance
	// conflicts even inside the same process
	ok, err = second.Lock()
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := second.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, first.Unlock())

	ok, err = second.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestFlockReentrant(t *testing.T) {
	locker, err := New(StrategyFlock, testTarget(t), Config{})
	require.NoError(t, err)

	ok, err := locker.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, locker.HasLock())

	require.NoError(t, locker.Unlock())
	assert.False(t, locker.HasLock())
	assert.NoError(t, locker.Unlock())
}

func TestFcntlAcquireRelease(t *testing.T) {
	// POSIX locks are process-owned: same-process exclusion is enforced
	// by the folder open registry, not testable here
	locker, err := New(StrategyFcntl, testTarget(t), Config{})
	require.NoError(t, err)

	ok, err := locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, locker.HasLock())

	require.NoError(t, locker.Unlock())
	assert.False(t, locker.HasLock())
}

func TestFlockDirectoryTarget(t *testing.T) {
	// MH and Maildir folders are directories: the lock goes onto a
	// sentinel file next to them
	target := t.TempDir()
	first, err := New(StrategyFlock, target, Config{Log: lib.NewTestLogger(t, "first")})
	require.NoError(t, err)
	second, err := New(StrategyFlock, target, Config{Log: lib.NewTestLogger(t, "second")})
	require.NoError(t, err)

	ok, err := first.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(filepath.Clean(target) + ".flock")
	assert.NoError(t, err)

	ok, err = second.Lock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock())

	ok, err = second.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestFcntlDirectoryTarget(t *testing.T) {
	locker, err := New(StrategyFcntl, t.TempDir(), Config{})
	require.NoError(t, err)

	ok, err := locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Unlock())
}

func TestUnknownStrategy(t *testing.T) {
	_, err := New(Strategy("telepathy"), "somewhere", Config{})
	assert.Error(t, err)
}
