// Package storage selects and drives a mailbox layout: a Backend per
// physical shape (mbox file, MH directory, Maildir) behind one Folder
// façade handling locking, scanning and write-back.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage/mbox"
	"github.com/creativeprojects/mailstore/storage/mdir"
	"github.com/creativeprojects/mailstore/storage/mh"
)

// Backend is one mailbox layout. Records returned by Scan stay bound to
// the backend through their lazy loaders and are only valid until Close.
type Backend interface {
	// Kind identifies the layout (KindMbox, KindMH, KindMaildir).
	Kind() string
	// Path of the physical container.
	Path() string
	// Scan enumerates the stored messages without reading their content,
	// unless the lazy policy demands it.
	Scan(opts mailbox.ScanOptions) ([]*mailbox.Record, error)
	// WriteBack reconciles the container with the records and returns the
	// surviving ones, locations updated.
	WriteBack(records []*mailbox.Record, opts mailbox.WriteOptions) ([]*mailbox.Record, error)
	Close() error
}

const (
	KindMbox    = "mbox"
	KindMH      = "mh"
	KindMaildir = "maildir"
)

var (
	_ Backend = &mbox.Backend{}
	_ Backend = &mh.Backend{}
	_ Backend = &mdir.Backend{}
)

// NewBackend opens a backend of the given kind.
func NewBackend(kind, path string, logger lib.Logger) (Backend, error) {
	switch kind {
	case KindMbox:
		return mbox.NewWithLogger(path, logger)
	case KindMH:
		return mh.NewWithLogger(path, logger)
	case KindMaildir:
		return mdir.NewWithLogger(path, logger)
	}
	return nil, fmt.Errorf("unknown storage kind %q", kind)
}

// Create makes an empty valid container of the given kind.
func Create(kind, path string) error {
	switch kind {
	case KindMbox:
		return mbox.Create(path)
	case KindMH:
		return mh.Create(path)
	case KindMaildir:
		return mdir.Create(path)
	}
	return fmt.Errorf("unknown storage kind %q", kind)
}

// Detect sniffs the layout of an existing path: a regular file is an
// mbox; a directory with cur, new and tmp subdirectories is a Maildir;
// a directory with a sequences file or numbered message files is MH.
func Detect(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", lib.ErrNotFound, path)
		}
		return "", fmt.Errorf("%w: cannot stat %q: %s", lib.ErrStorageIO, path, err)
	}
	if !info.IsDir() {
		return KindMbox, nil
	}

	if isDir(filepath.Join(path, "cur")) &&
		isDir(filepath.Join(path, "new")) &&
		isDir(filepath.Join(path, "tmp")) {
		return KindMaildir, nil
	}

	if _, err = os.Stat(filepath.Join(path, mh.SequencesFile)); err == nil {
		return KindMH, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot list %q: %s", lib.ErrStorageIO, path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if number, err := strconv.Atoi(entry.Name()); err == nil && number > 0 {
			return KindMH, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a recognizable mailbox layout", lib.ErrCorrupt, path)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
