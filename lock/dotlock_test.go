package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTarget(t *testing.T) string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "folder.mbox")
	require.NoError(t, os.WriteFile(target, []byte("From test\n\nhello\n"), 0600))
	return target
}

func TestDotlockMutualExclusion(t *testing.T) {
	target := testTarget(t)
	first := NewDotlock(target, Config{Log: lib.NewTestLogger(t, "first")})
	second := NewDotlock(target, Config{Log: lib.NewTestLogger(t, "second")})

	ok, err := first.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Lock()
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, first.HasLock())
	assert.False(t, second.HasLock())

	require.NoError(t, first.Unlock())

	ok, err = second.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestDotlockReentrant(t *testing.T) {
	locker := NewDotlock(testTarget(t), Config{})

	ok, err := locker.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	// a held locker re-acquires instantly
	start := time.Now()
	ok, err = locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, locker.Unlock())
}

func TestDotlockTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("timeout test waits for a second")
	}
	target := testTarget(t)
	holder := NewDotlock(target, Config{})
	ok, err := holder.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	waiter := NewDotlock(target, Config{Timeout: 1})
	start := time.Now()
	ok, err = waiter.Lock()
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)

	require.NoError(t, holder.Unlock())

	// after release a third attempt succeeds immediately
	third := NewDotlock(target, Config{})
	start = time.Now()
	ok, err = third.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	require.NoError(t, third.Unlock())
}

func TestDotlockUnlockWhenNotHeld(t *testing.T) {
	locker := NewDotlock(testTarget(t), Config{})
	assert.NoError(t, locker.Unlock())
}

func TestDotlockProbe(t *testing.T) {
	target := testTarget(t)
	holder := NewDotlock(target, Config{})
	prober := NewDotlock(target, Config{})

	locked, err := prober.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)

	ok, err := holder.Lock()
	require.NoError(t, err)
	require.True(t, ok)

	locked, err = prober.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)
	// the probe did not steal the lock
	assert.True(t, holder.HasLock())
	_, err = os.Stat(holder.Path())
	assert.NoError(t, err)

	require.NoError(t, holder.Unlock())

	locked, err = prober.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestNFSDotlockReclaimsDeadOwner(t *testing.T) {
	target := testTarget(t)
	host, err := os.Hostname()
	require.NoError(t, err)

	// a sentinel left behind by a process that no longer exists
	stamp := fmt.Sprintf("%s:%d:%d\n", host, 999999999, time.Now().Unix())
	require.NoError(t, os.WriteFile(target+".lock", []byte(stamp), 0644))

	locker := NewNFSDotlock(target, Config{Log: lib.NewTestLogger(t, "nfs")})
	ok, err := locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Unlock())
}

func TestNFSDotlockReclaimsOldStamp(t *testing.T) {
	target := testTarget(t)

	// a sentinel stamped on another host, older than the stale age
	stamp := fmt.Sprintf("elsewhere:%d:%d\n", 1, time.Now().Add(-10*time.Minute).Unix())
	require.NoError(t, os.WriteFile(target+".lock", []byte(stamp), 0644))

	locker := NewNFSDotlock(target, Config{})
	ok, err := locker.Lock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Unlock())
}

func TestNFSDotlockKeepsFreshForeignLock(t *testing.T) {
	target := testTarget(t)

	stamp := fmt.Sprintf("elsewhere:%d:%d\n", 1, time.Now().Unix())
	require.NoError(t, os.WriteFile(target+".lock", []byte(stamp), 0644))

	locker := NewNFSDotlock(target, Config{})
	ok, err := locker.Lock()
	require.NoError(t, err)
	assert.False(t, ok)
}
