package lib

import "errors"

var (
	// ErrNotFound is returned when the folder location does not exist and
	// creation was not requested.
	ErrNotFound = errors.New("folder not found")
	// ErrAlreadyOpen is returned when the same location is already open
	// read-write in this process.
	ErrAlreadyOpen = errors.New("folder already open for writing")
	// ErrLockFailed is returned when the folder lock could not be acquired
	// within the configured timeout.
	ErrLockFailed = errors.New("cannot lock folder")
	// ErrCorrupt indicates message boundaries could not be determined. A
	// scan still returns every record found before the corruption point.
	ErrCorrupt = errors.New("folder content is corrupt")
	// ErrStorageIO indicates a read or write failure against the
	// underlying filesystem.
	ErrStorageIO = errors.New("storage input/output error")
	// ErrWriteBackFailed indicates a failure during rewrite. The original
	// container is left untouched.
	ErrWriteBackFailed = errors.New("write-back failed")
	// ErrNoContent is returned when content is requested from a dummy
	// record.
	ErrNoContent = errors.New("record has no content")
	// ErrReadOnly is returned when a mutation is attempted on a folder
	// opened read-only.
	ErrReadOnly = errors.New("folder is open read-only")
)
