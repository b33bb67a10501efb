package mbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage(n int) string {
	return fmt.Sprintf("From sender@example.org Thu Oct 10 10:10:10 2024\n"+
		"Subject: message %d\n"+
		"Message-ID: <msg-%d@example.org>\n"+
		"\n"+
		"body of message %d\n", n, n, n)
}

func writeSampleMbox(t *testing.T, count int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folder.mbox")
	content := ""
	for i := 1; i <= count; i++ {
		content += sampleMessage(i)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func openSample(t *testing.T, count int, opts mailbox.ScanOptions) (*Backend, []*mailbox.Record) {
	t.Helper()
	path := writeSampleMbox(t, count)
	backend, err := NewWithLogger(path, lib.NewTestLogger(t, "mbox"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	records, err := backend.Scan(opts)
	require.NoError(t, err)
	return backend, records
}

func TestScanFindsBoundaries(t *testing.T) {
	_, records := openSample(t, 45, mailbox.ScanOptions{Policy: mailbox.LazyOnDemand})
	require.Len(t, records, 45)

	for i, record := range records {
		assert.Equal(t, mailbox.StateDelayed, record.Header().State(), "message %d", i)
		assert.Equal(t, mailbox.StateDelayed, record.Body().State(), "message %d", i)
		assert.Equal(t, "From sender@example.org Thu Oct 10 10:10:10 2024", record.Envelope())
	}

	subject, err := records[2].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "message 3", subject)

	body, err := records[2].Body().Bytes()
	require.NoError(t, err)
	assert.Equal(t, "body of message 3\n", string(body))
}

func TestScanLazyNeverRealizesEverything(t *testing.T) {
	_, records := openSample(t, 45, mailbox.ScanOptions{Policy: mailbox.LazyNever})
	require.Len(t, records, 45)
	for i, record := range records {
		assert.True(t, record.Realized(), "message %d", i)
	}
}

func TestScanEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mbox")
	require.NoError(t, Create(path))

	backend, err := New(path)
	require.NoError(t, err)
	defer backend.Close()

	records, err := backend.Scan(mailbox.ScanOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScanCorruptLeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folder.mbox")
	require.NoError(t, os.WriteFile(path, []byte("not a sentinel\n"+sampleMessage(1)), 0600))

	backend, err := New(path)
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Scan(mailbox.ScanOptions{})
	assert.ErrorIs(t, err, lib.ErrCorrupt)
}

func TestWriteBackRoundTripFidelity(t *testing.T) {
	backend, records := openSample(t, 5, mailbox.ScanOptions{Policy: mailbox.LazyOnDemand})
	before, err := os.ReadFile(backend.Path())
	require.NoError(t, err)

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	assert.Len(t, survivors, 5)

	after, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	// nothing was touched: the rewrite is byte-identical
	assert.Equal(t, before, after)
}

func TestWriteBackDropsDeleted(t *testing.T) {
	backend, records := openSample(t, 45, mailbox.ScanOptions{Policy: mailbox.LazyOnDemand})
	records[2].Delete()

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	require.Len(t, survivors, 44)

	// surviving records keep their order and stay readable at their new
	// offsets
	subject, err := survivors[2].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "message 4", subject)

	rescan, err := backend.Scan(mailbox.ScanOptions{})
	require.NoError(t, err)
	assert.Len(t, rescan, 44)
}

func TestWriteBackKeepDeleted(t *testing.T) {
	backend, records := openSample(t, 3, mailbox.ScanOptions{})
	records[1].Delete()

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{KeepDeleted: true})
	require.NoError(t, err)
	assert.Len(t, survivors, 3)
	assert.True(t, survivors[1].IsDeleted())
}

func TestWriteBackAllDeletedLeavesValidEmptyContainer(t *testing.T) {
	backend, records := openSample(t, 3, mailbox.ScanOptions{})
	for _, record := range records {
		record.Delete()
	}

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	assert.Empty(t, survivors)

	info, err := os.Stat(backend.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestWriteBackCollapsesDuplicateRanges(t *testing.T) {
	backend, records := openSample(t, 3, mailbox.ScanOptions{})
	// the same physical message added twice
	records = append(records, records[1])

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	assert.Len(t, survivors, 3)
}

func TestWriteBackSerializesModifiedRecord(t *testing.T) {
	backend, records := openSample(t, 2, mailbox.ScanOptions{})
	err := records[0].ReplaceBody([]byte("decoded body\nFrom here on, quoted\n"))
	require.NoError(t, err)

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	require.Len(t, survivors, 2)
	assert.False(t, survivors[0].Modified())

	content, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "decoded body\n>From here on, quoted\n")

	rescan, err := backend.Scan(mailbox.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rescan, 2)
	subject, err := rescan[1].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "message 2", subject)
}

func TestWriteBackPersistsHeaderEdit(t *testing.T) {
	backend, records := openSample(t, 2, mailbox.ScanOptions{})
	require.NoError(t, records[0].Header().Set("Subject", "edited"))

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	require.Len(t, survivors, 2)

	rescan, err := backend.Scan(mailbox.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rescan, 2)
	subject, err := rescan[0].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "edited", subject)
}

func TestWriteBackReopenFailureKeepsRelocations(t *testing.T) {
	backend, records := openSample(t, 3, mailbox.ScanOptions{})
	backend.reopen = func(string) (*source.File, error) {
		return nil, errors.New("file table full")
	}
	records[0].Delete()

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	assert.Error(t, err)
	require.Len(t, survivors, 2)

	// the rename went through: the records must point at their new
	// ranges, not at bytes that no longer exist
	assert.Equal(t, int64(0), survivors[0].Location().Offset)
	content, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(content), "message 1")
	assert.Contains(t, string(content), "message 2")
}

func TestWriteBackAppendsNewRecord(t *testing.T) {
	backend, records := openSample(t, 2, mailbox.ScanOptions{})
	added, err := mailbox.NewFromContent([]byte("Subject: added\nMessage-ID: <added@example.org>\n\nfresh content\n"))
	require.NoError(t, err)
	records = append(records, added)

	survivors, err := backend.WriteBack(records, mailbox.WriteOptions{})
	require.NoError(t, err)
	require.Len(t, survivors, 3)

	rescan, err := backend.Scan(mailbox.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rescan, 3)
	subject, err := rescan[2].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "added", subject)
	// a generated envelope line marks the appended message
	assert.Contains(t, rescan[2].Envelope(), "MAILER-DAEMON")
}

func TestWriteBackFailureLeavesOriginalUntouched(t *testing.T) {
	backend, records := openSample(t, 3, mailbox.ScanOptions{})
	before, err := os.ReadFile(backend.Path())
	require.NoError(t, err)

	// a modified record whose content cannot be loaded fails the rewrite
	// half way through
	broken := mailbox.New(mailbox.Location{},
		mailbox.NewDelayedHeader(func() ([]byte, error) {
			return nil, errors.New("disk on fire")
		}),
		mailbox.NewDelayedBody(nil, -1))
	broken.MarkModified()
	records = append(records[:2], broken, records[2])

	_, err = backend.WriteBack(records, mailbox.WriteOptions{})
	assert.ErrorIs(t, err, lib.ErrWriteBackFailed)

	after, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// untouched records still read correctly after the failed attempt
	subject, err := records[0].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "message 1", subject)
}

func TestWriteBackRejectsDummy(t *testing.T) {
	backend, records := openSample(t, 2, mailbox.ScanOptions{})
	records = append(records, mailbox.NewDummy("ghost@example.org"))

	_, err := backend.WriteBack(records, mailbox.WriteOptions{})
	assert.ErrorIs(t, err, lib.ErrWriteBackFailed)
}

type memoryIndex map[string]map[string]string

func (m memoryIndex) Get(locator string) (map[string]string, bool) {
	fields, ok := m[locator]
	return fields, ok
}

func (m memoryIndex) Put(locator string, fields map[string]string) error {
	m[locator] = fields
	return nil
}

func TestPartialHeadersFromIndex(t *testing.T) {
	index := memoryIndex{}
	take := []string{"Subject", "From"}
	backend, records := openSample(t, 3, mailbox.ScanOptions{
		Policy: mailbox.LazyOnDemand,
		Take:   take,
		Index:  index,
	})

	// first realization populates the index
	require.NoError(t, records[1].RealizeHeader())
	assert.NotEmpty(t, index)

	// a second scan serves the taken fields from the index without
	// touching the header bytes
	rescan, err := backend.Scan(mailbox.ScanOptions{Policy: mailbox.LazyOnDemand, Take: take, Index: index})
	require.NoError(t, err)
	assert.Equal(t, mailbox.StatePartial, rescan[1].Header().State())

	subject, err := rescan[1].Header().Get("Subject")
	require.NoError(t, err)
	assert.Equal(t, "message 2", subject)
	assert.Equal(t, mailbox.StatePartial, rescan[1].Header().State())
}
