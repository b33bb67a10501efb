package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
)

// Options configure an open folder.
type Options struct {
	// ReadOnly folders never write, whatever the close mode; they also
	// bypass the open registry.
	ReadOnly bool
	// Locker guards the container against other processes; nil opens
	// without locking.
	Locker lock.Locker
	// Scan is handed to the backend (lazy policy, field index).
	Scan mailbox.ScanOptions
	// Salvage opens a corrupt container anyway, keeping the records
	// scanned before the corruption point.
	Salvage bool
	// Log receives diagnostics, nil for none.
	Log lib.Logger
}

// Folder is the single entry point over a mailbox: it sniffs the layout,
// locks the container, scans it once and keeps the records until Close
// writes the outcome back.
type Folder struct {
	backend    Backend
	locker     lock.Locker
	log        lib.Logger
	records    []*mailbox.Record
	scan       mailbox.ScanOptions
	readOnly   bool
	added      bool
	closed     bool
	registered string
}

// one folder per physical path and process: the in-process counterpart of
// the process-level Locker
var (
	openMutex   sync.Mutex
	openFolders = map[string]bool{}
)

func register(path string) (string, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	openMutex.Lock()
	defer openMutex.Unlock()
	if openFolders[key] {
		return "", fmt.Errorf("%w: %q", lib.ErrAlreadyOpen, key)
	}
	openFolders[key] = true
	return key, nil
}

func unregister(key string) {
	if key == "" {
		return
	}
	openMutex.Lock()
	defer openMutex.Unlock()
	delete(openFolders, key)
}

// Open detects the layout of path, takes the lock and scans the folder.
func Open(path string, options Options) (*Folder, error) {
	logger := options.Log
	if logger == nil {
		logger = &lib.NoLog{}
	}

	kind, err := Detect(path)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(kind, path, logger)
	if err != nil {
		return nil, err
	}

	registered := ""
	if !options.ReadOnly {
		registered, err = register(path)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	cleanup := func() {
		unregister(registered)
		_ = backend.Close()
	}

	if options.Locker != nil {
		ok, err := options.Locker.Lock()
		if err != nil {
			cleanup()
			return nil, err
		}
		if !ok {
			cleanup()
			return nil, fmt.Errorf("%w: %q is locked by someone else", lib.ErrLockFailed, path)
		}
	}

	scanOpts := options.Scan
	scanOpts.ReadOnly = options.ReadOnly

	records, err := backend.Scan(scanOpts)
	if err != nil {
		if !options.Salvage || !errors.Is(err, lib.ErrCorrupt) {
			if options.Locker != nil {
				_ = options.Locker.Unlock()
			}
			cleanup()
			return nil, err
		}
		logger.Printf("folder: %q is corrupt, salvaged %d messages: %v", path, len(records), err)
	}
	logger.Printf("folder: opened %q as %s with %d messages", path, kind, len(records))

	return &Folder{
		backend:    backend,
		locker:     options.Locker,
		log:        logger,
		records:    records,
		scan:       scanOpts,
		readOnly:   options.ReadOnly,
		registered: registered,
	}, nil
}

func (f *Folder) Kind() string {
	return f.backend.Kind()
}

func (f *Folder) Path() string {
	return f.backend.Path()
}

// Messages returns the records not flagged as deleted, in folder order.
func (f *Folder) Messages() []*mailbox.Record {
	records := make([]*mailbox.Record, 0, len(f.records))
	for _, record := range f.records {
		if record.IsDeleted() {
			continue
		}
		records = append(records, record)
	}
	return records
}

// AllMessages returns every record, records flagged as deleted included.
func (f *Folder) AllMessages() []*mailbox.Record {
	return f.records
}

// Modified reports whether the folder needs a write-back: a record was
// added, deleted or modified since the scan.
func (f *Folder) Modified() bool {
	if f.added {
		return true
	}
	for _, record := range f.records {
		if record.Modified() || record.IsDeleted() {
			return true
		}
	}
	return false
}

// Append adds a raw message to the folder. Adding a message whose content
// is already present is a no-op returning the existing record; a
// fingerprint collision with different content is a genuine add.
func (f *Folder) Append(content []byte) (*mailbox.Record, error) {
	if f.readOnly {
		return nil, fmt.Errorf("%w: %q", lib.ErrReadOnly, f.Path())
	}
	record, err := mailbox.NewFromContent(content)
	if err != nil {
		return nil, err
	}
	id, err := record.ID()
	if err != nil {
		return nil, err
	}
	for _, existing := range f.records {
		if existing.IsDeleted() || existing.IsDummy() {
			continue
		}
		existingID, err := existing.ID()
		if err != nil {
			return nil, err
		}
		if existingID != id {
			continue
		}
		same, err := existing.SameContent(record)
		if err != nil {
			return nil, err
		}
		if same {
			f.log.Printf("folder: message %s already present, not added again", id)
			return existing, nil
		}
	}
	f.records = append(f.records, record)
	f.added = true
	return record, nil
}

// WriteBack persists the current record state through the backend. The
// lock is re-requested when it was lost or never taken.
func (f *Folder) WriteBack(opts mailbox.WriteOptions) error {
	if f.readOnly {
		return fmt.Errorf("%w: %q", lib.ErrReadOnly, f.Path())
	}
	if f.locker != nil && !f.locker.HasLock() {
		ok, err := f.locker.Lock()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q is locked by someone else", lib.ErrLockFailed, f.Path())
		}
	}
	survivors, err := f.backend.WriteBack(f.records, opts)
	if survivors != nil {
		// the container may have been rewritten even when an error
		// follows, keep the relocated records
		f.records = survivors
	}
	if err != nil {
		return err
	}
	f.added = false
	if f.scan.Policy == mailbox.LazyAlways {
		for _, record := range f.records {
			record.Dispose()
		}
	}
	return nil
}

// Close releases the folder: depending on mode it writes pending changes
// first, then unlocks and unregisters. A read-only folder never writes.
// Close is idempotent.
func (f *Folder) Close(mode mailbox.WriteMode) error {
	if f.closed {
		return nil
	}
	f.closed = true

	var writeErr error
	if !f.readOnly {
		switch mode {
		case mailbox.WriteAlways:
			writeErr = f.WriteBack(mailbox.WriteOptions{})
		case mailbox.WriteIfModified:
			if f.Modified() {
				writeErr = f.WriteBack(mailbox.WriteOptions{})
			}
		case mailbox.WriteNever:
		}
	}

	if f.locker != nil && f.locker.HasLock() {
		if err := f.locker.Unlock(); err != nil && writeErr == nil {
			writeErr = err
		}
	}
	unregister(f.registered)
	if err := f.backend.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	return writeErr
}
