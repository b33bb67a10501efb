// Package source gives positioned access to the raw bytes of one
// physical mail container, and the temporary-file-then-rename primitive
// used to rewrite one atomically.
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/creativeprojects/mailstore/lib"
)

// ByteSource reads raw bytes from one physical container.
type ByteSource interface {
	// ReadRange returns n bytes starting at offset off.
	ReadRange(off, n int64) ([]byte, error)
	// CopyRange streams n bytes starting at off into w, byte for byte.
	CopyRange(w io.Writer, off, n int64) (int64, error)
	Size() (int64, error)
	Close() error
}

// File is a ByteSource over a regular file.
type File struct {
	file *os.File
	path string
}

func OpenFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %q: %s", lib.ErrStorageIO, path, err)
	}
	return &File{
		file: file,
		path: path,
	}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) ReadRange(off, n int64) ([]byte, error) {
	buffer := make([]byte, n)
	read, err := f.file.ReadAt(buffer, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: cannot read %d bytes at %d in %q: %s", lib.ErrStorageIO, n, off, f.path, err)
	}
	if int64(read) < n {
		return nil, fmt.Errorf("%w: %q truncated: wanted %d bytes at %d, got %d", lib.ErrCorrupt, f.path, n, off, read)
	}
	return buffer, nil
}

func (f *File) CopyRange(w io.Writer, off, n int64) (int64, error) {
	copied, err := io.Copy(w, io.NewSectionReader(f.file, off, n))
	if err != nil {
		return copied, fmt.Errorf("%w: cannot copy %d bytes at %d from %q: %s", lib.ErrStorageIO, n, off, f.path, err)
	}
	if copied < n {
		return copied, fmt.Errorf("%w: %q truncated: wanted %d bytes at %d, got %d", lib.ErrCorrupt, f.path, n, off, copied)
	}
	return copied, nil
}

// SectionReader returns a sequential reader over a byte range, used by
// scans that walk the whole container.
func (f *File) SectionReader(off, n int64) *io.SectionReader {
	return io.NewSectionReader(f.file, off, n)
}

func (f *File) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: cannot stat %q: %s", lib.ErrStorageIO, f.path, err)
	}
	return info.Size(), nil
}

func (f *File) Close() error {
	return f.file.Close()
}

// ReadWhole returns the full content of a message file, wrapping the
// failure in the engine error taxonomy.
func ReadWhole(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %q: %s", lib.ErrStorageIO, path, err)
	}
	return content, nil
}
