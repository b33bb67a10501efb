package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creativeprojects/mailstore/lib"
)

// Rewrite builds the replacement for a container in a temporary file in
// the same directory, then swaps it in with a rename. Until Commit
// returns the original is untouched, so a failed rewrite never loses
// data.
type Rewrite struct {
	target  string
	file    *os.File
	written int64
	done    bool
}

func NewRewrite(target string) (*Rewrite, error) {
	file, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create temporary file for %q: %s", lib.ErrWriteBackFailed, target, err)
	}
	return &Rewrite{
		target: target,
		file:   file,
	}, nil
}

func (r *Rewrite) Write(p []byte) (int, error) {
	n, err := r.file.Write(p)
	r.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %s", lib.ErrStorageIO, err)
	}
	return n, nil
}

// Written returns the number of bytes written so far, which is the offset
// the next write lands on.
func (r *Rewrite) Written() int64 {
	return r.written
}

// Commit makes the replacement durable and renames it over the target.
func (r *Rewrite) Commit() error {
	if r.done {
		return nil
	}
	r.done = true
	if err := r.file.Sync(); err != nil {
		_ = r.file.Close()
		_ = os.Remove(r.file.Name())
		return fmt.Errorf("%w: cannot sync %q: %s", lib.ErrWriteBackFailed, r.file.Name(), err)
	}
	if err := r.file.Close(); err != nil {
		_ = os.Remove(r.file.Name())
		return fmt.Errorf("%w: cannot close %q: %s", lib.ErrWriteBackFailed, r.file.Name(), err)
	}
	if err := os.Rename(r.file.Name(), r.target); err != nil {
		_ = os.Remove(r.file.Name())
		return fmt.Errorf("%w: cannot replace %q: %s", lib.ErrWriteBackFailed, r.target, err)
	}
	return nil
}

// Abort drops the temporary file, leaving the original container exactly
// as it was. Safe to defer after a Commit.
func (r *Rewrite) Abort() {
	if r.done {
		return
	}
	r.done = true
	_ = r.file.Close()
	_ = os.Remove(r.file.Name())
}
