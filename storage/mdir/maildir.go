// Package mdir stores a folder as a Maildir: one file per message under
// cur/new/tmp subdirectories, with per-message flags encoded in the
// filename. Flag changes rename the file immediately, so labels on this
// layout are self-synchronizing and need no write-back.
package mdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-maildir"
)

// Backend maps folder operations onto a Maildir directory.
type Backend struct {
	path string
	dir  maildir.Dir
	log  lib.Logger
	scan mailbox.ScanOptions
}

func New(path string) (*Backend, error) {
	return NewWithLogger(path, nil)
}

func NewWithLogger(path string, logger lib.Logger) (*Backend, error) {
	if logger == nil {
		logger = &lib.NoLog{}
	}
	info, err := os.Stat(filepath.Join(path, "cur"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", lib.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: cannot open %q: %s", lib.ErrStorageIO, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a maildir", lib.ErrCorrupt, path)
	}
	return &Backend{
		path: path,
		dir:  maildir.Dir(path),
		log:  logger,
	}, nil
}

// Create makes an empty Maildir: the cur, new and tmp subdirectories.
func Create(path string) error {
	if err := maildir.Dir(path).Init(); err != nil {
		return fmt.Errorf("%w: cannot create %q: %s", lib.ErrStorageIO, path, err)
	}
	return nil
}

func (b *Backend) Kind() string {
	return "maildir"
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Close() error {
	return nil
}

// Accept moves newly delivered messages from new to cur, where the next
// scan picks them up. It returns the number of messages accepted.
func (b *Backend) Accept() (int, error) {
	keys, err := b.dir.Unseen()
	if err != nil {
		return 0, fmt.Errorf("%w: cannot accept deliveries in %q: %s", lib.ErrStorageIO, b.path, err)
	}
	if len(keys) > 0 {
		b.log.Printf("maildir: accepted %d new messages in %q", len(keys), b.path)
	}
	return len(keys), nil
}

// Scan accepts pending deliveries and lists the messages in cur, sorted
// by key for a stable order. Flags from the filenames become labels,
// unknown flag letters are kept as residue. A read-only scan leaves
// deliveries in new untouched and only lists cur.
func (b *Backend) Scan(opts mailbox.ScanOptions) ([]*mailbox.Record, error) {
	b.scan = opts

	if !opts.ReadOnly {
		if _, err := b.Accept(); err != nil {
			return nil, err
		}
	}
	keys, err := b.dir.Keys()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list %q: %s", lib.ErrStorageIO, b.path, err)
	}
	sort.Strings(keys)

	records := make([]*mailbox.Record, 0, len(keys))
	for _, key := range keys {
		flags, err := b.dir.Flags(key)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read flags of %q: %s", lib.ErrStorageIO, key, err)
		}
		records = append(records, b.buildRecord(key, flags, opts))
	}

	if opts.Policy == mailbox.LazyNever {
		for _, record := range records {
			if err := record.Realize(); err != nil {
				b.log.Printf("maildir: cannot realize message %q: %v", record.Location().Key, err)
			}
		}
	}
	b.log.Printf("maildir: scanned %d messages from %q", len(records), b.path)
	return records, nil
}

func (b *Backend) buildRecord(key string, flags []maildir.Flag, opts mailbox.ScanOptions) *mailbox.Record {
	location := mailbox.Location{Key: key}

	var record *mailbox.Record
	loadHeader := func() ([]byte, error) {
		content, err := b.readMessage(record.Location().Key)
		if err != nil {
			return nil, err
		}
		rawHeader, _ := mailbox.SplitContent(content)
		b.scan.StoreFields(record.Location().Locator(), rawHeader)
		return rawHeader, nil
	}
	loadBody := func() ([]byte, error) {
		content, err := b.readMessage(record.Location().Key)
		if err != nil {
			return nil, err
		}
		_, rawBody := mailbox.SplitContent(content)
		return rawBody, nil
	}

	header := mailbox.NewDelayedHeader(loadHeader)
	if fields, ok := opts.CachedFields(location.Locator()); ok {
		header = mailbox.NewPartialHeader(loadHeader, fields)
	}
	record = mailbox.New(location, header, mailbox.NewDelayedBody(loadBody, -1))

	residue := ""
	for _, flag := range flags {
		if label, ok := labelFor(flag); ok {
			record.InitLabel(label, true)
		} else {
			residue += string(flag)
		}
	}
	record.SetResidue(residue)
	record.OnLabelChange(b.syncFlags)
	return record
}

func (b *Backend) readMessage(key string) ([]byte, error) {
	reader, err := b.dir.Open(key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// syncFlags is the label hook: a label change renames the message file on
// the spot, no write-back involved.
func (b *Backend) syncFlags(record *mailbox.Record) error {
	key := record.Location().Key
	if key == "" {
		// not stored yet, the flags go onto the file at write-back
		return nil
	}
	if err := b.dir.SetFlags(key, recordFlags(record)); err != nil {
		return fmt.Errorf("%w: cannot set flags of %q: %s", lib.ErrStorageIO, key, err)
	}
	return nil
}

// WriteBack removes deleted messages and stores added or content-modified
// ones. Labels are already on disk, so an unmodified record costs
// nothing. Each message is written atomically on its own; there is no
// folder-wide transaction in this layout.
func (b *Backend) WriteBack(records []*mailbox.Record, opts mailbox.WriteOptions) ([]*mailbox.Record, error) {
	kept := make([]*mailbox.Record, 0, len(records))
	doomed := make([]string, 0)
	seen := make(map[string]bool, len(records))

	for _, record := range records {
		if record.IsDummy() {
			return nil, fmt.Errorf("%w: dummy record handed to %q", lib.ErrWriteBackFailed, b.path)
		}
		key := record.Location().Key
		if record.IsDeleted() && !opts.KeepDeleted {
			if key != "" {
				doomed = append(doomed, key)
			}
			continue
		}
		if key != "" {
			if seen[key] {
				// double-add of the same physical message
				continue
			}
			seen[key] = true
		}
		kept = append(kept, record)
	}

	// realize everything that needs storing before touching the directory
	contents := make(map[*mailbox.Record][]byte)
	for _, record := range kept {
		if record.Location().Key != "" && !record.ContentModified() {
			continue
		}
		content, err := record.Content()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
		}
		contents[record] = content
	}

	for record, content := range contents {
		oldKey := record.Location().Key
		key, err := b.storeMessage(content, recordFlags(record))
		if err != nil {
			return nil, err
		}
		if oldKey != "" {
			if err = b.dir.Remove(oldKey); err != nil {
				return nil, fmt.Errorf("%w: cannot remove %q: %s", lib.ErrWriteBackFailed, oldKey, err)
			}
		}
		record.SetLocation(mailbox.Location{Key: key})
	}

	for _, key := range doomed {
		if err := b.dir.Remove(key); err != nil {
			var keyError *maildir.KeyError
			if !errors.As(err, &keyError) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: cannot remove %q: %s", lib.ErrWriteBackFailed, key, err)
			}
		}
	}

	for _, record := range kept {
		record.ResetModified()
	}
	b.log.Printf("maildir: wrote %d messages to %q", len(kept), b.path)
	return kept, nil
}

func (b *Backend) storeMessage(content []byte, flags []maildir.Flag) (string, error) {
	key, writer, err := b.dir.Create(flags)
	if err != nil {
		return "", fmt.Errorf("%w: cannot store message in %q: %s", lib.ErrWriteBackFailed, b.path, err)
	}
	if _, err = writer.Write(content); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("%w: cannot store message in %q: %s", lib.ErrWriteBackFailed, b.path, err)
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("%w: cannot store message in %q: %s", lib.ErrWriteBackFailed, b.path, err)
	}
	return key, nil
}
