package source

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReadRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0600))

	file, err := OpenFile(path)
	require.NoError(t, err)
	defer file.Close()

	content, err := file.ReadRange(2, 5)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(content))

	size, err := file.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestFileReadRangeTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0600))

	file, err := OpenFile(path)
	require.NoError(t, err)
	defer file.Close()

	_, err = file.ReadRange(8, 5)
	assert.ErrorIs(t, err, lib.ErrCorrupt)
}

func TestFileCopyRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0600))

	file, err := OpenFile(path)
	require.NoError(t, err)
	defer file.Close()

	buffer := &bytes.Buffer{}
	copied, err := file.CopyRange(buffer, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), copied)
	assert.Equal(t, "3456", buffer.String())
}

func TestRewriteCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0600))

	rewrite, err := NewRewrite(path)
	require.NoError(t, err)
	defer rewrite.Abort()

	_, err = rewrite.Write([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), rewrite.Written())

	// the original is untouched until Commit
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before", string(content))

	require.NoError(t, rewrite.Commit())

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after", string(content))
}

func TestRewriteAbortLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "container")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0600))

	rewrite, err := NewRewrite(path)
	require.NoError(t, err)
	_, err = rewrite.Write([]byte("half written"))
	require.NoError(t, err)
	rewrite.Abort()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before", string(content))

	// no temporary file left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
