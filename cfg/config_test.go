package cfg

import (
	"io"
	"strings"
	"testing"

	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, content string) (*Config, error) {
	t.Helper()
	return loadConfig(io.NopCloser(strings.NewReader(content)))
}

func TestDefaultConfig(t *testing.T) {
	config := Default()
	assert.Equal(t, mailbox.LazyOnDemand, config.Policy())
	assert.Equal(t, 10, config.LockTimeout)
	assert.Contains(t, config.TakeFields, "Subject")
}

func TestLoadConfig(t *testing.T) {
	config, err := load(t, `
lazyPolicy: never
lockStrategies:
  - flock
  - dotlock
lockTimeout: 3
takeFields:
  - Subject
indexFile: /tmp/index.db
`)
	require.NoError(t, err)
	assert.Equal(t, mailbox.LazyNever, config.Policy())
	assert.Equal(t, []string{"flock", "dotlock"}, config.LockStrategies)
	assert.Equal(t, 3, config.LockTimeout)
	assert.Equal(t, []string{"Subject"}, config.TakeFields)
	assert.Equal(t, "/tmp/index.db", config.IndexFile)
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	config, err := load(t, "lockTimeout: 0\n")
	require.NoError(t, err)
	assert.Equal(t, mailbox.LazyOnDemand, config.Policy())
	assert.Equal(t, []string{string(lock.StrategyDotlock)}, config.LockStrategies)
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	_, err := load(t, "lazyPolicy: eventually\n")
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	_, err := load(t, "lockStrategies: [semaphore]\n")
	assert.Error(t, err)
}

func TestScanOptions(t *testing.T) {
	config := Default()
	config.LazyPolicy = "always"
	opts := config.ScanOptions(nil)
	assert.Equal(t, mailbox.LazyAlways, opts.Policy)
	assert.Equal(t, config.TakeFields, opts.Take)
	assert.Nil(t, opts.Index)
}

func TestNewLockerSingle(t *testing.T) {
	config := Default()
	locker, err := config.NewLocker("/tmp/folder.mbox", nil)
	require.NoError(t, err)
	_, ok := locker.(*lock.Dotlock)
	assert.True(t, ok)
}

func TestNewLockerComposite(t *testing.T) {
	config := Default()
	config.LockStrategies = []string{"dotlock", "dotlock-nfs"}
	locker, err := config.NewLocker("/tmp/folder.mbox", nil)
	require.NoError(t, err)
	_, ok := locker.(*lock.Multi)
	assert.True(t, ok)
}

func TestNewLockerDisabled(t *testing.T) {
	config := Default()
	config.LockStrategies = nil
	locker, err := config.NewLocker("/tmp/folder.mbox", nil)
	require.NoError(t, err)
	assert.Nil(t, locker)
}
