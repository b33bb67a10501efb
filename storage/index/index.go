// Package index caches selected header fields in a bolt database, so a
// folder scan can hand out partial headers without reading any message
// content. The cache is strictly optional: every entry can be rebuilt
// from the mailbox itself.
package index

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

const stampKey = "\x00stamp"

// Index is one cache database shared by any number of folders, one
// bucket per folder path.
type Index struct {
	dbFile string
	db     *bolt.DB
}

func Open(filename string) (*Index, error) {
	options := bolt.DefaultOptions
	options.Timeout = 10 * time.Second

	db, err := bolt.Open(filename, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}
	return &Index{
		dbFile: filename,
		db:     db,
	}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// Stamp identifies the container state the cached fields were read from.
// A folder whose stamp no longer matches gets its cache dropped.
type Stamp struct {
	Size    int64
	ModTime time.Time
}

// FileStamp reads the current stamp of a container path.
func FileStamp(path string) (Stamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Folder returns the field cache of one folder, wiping it first when the
// container changed since the cache was written. The result implements
// mailbox.FieldIndex.
func (x *Index) Folder(path string, stamp Stamp) (*FolderIndex, error) {
	name := []byte(path)
	err := x.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket != nil {
			stored, err := deserializeStamp(bucket.Get([]byte(stampKey)))
			if err == nil && stored.Size == stamp.Size && stored.ModTime.Equal(stamp.ModTime) {
				return nil
			}
			// the container changed behind the cache
			if err = tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		data, err := serializeStamp(stamp)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(stampKey), data)
	})
	if err != nil {
		return nil, fmt.Errorf("cannot prepare index bucket for %q: %w", path, err)
	}
	return &FolderIndex{db: x.db, name: name}, nil
}

// FolderIndex is the per-folder view: field maps keyed by record locator.
type FolderIndex struct {
	db   *bolt.DB
	name []byte
}

func (f *FolderIndex) Get(locator string) (map[string]string, bool) {
	var fields map[string]string
	err := f.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(f.name)
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(locator))
		if data == nil {
			return nil
		}
		var err error
		fields, err = deserializeFields(data)
		return err
	})
	if err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func (f *FolderIndex) Put(locator string, fields map[string]string) error {
	data, err := serializeFields(fields)
	if err != nil {
		return err
	}
	return f.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(f.name)
		if bucket == nil {
			return fmt.Errorf("index bucket %q is gone", f.name)
		}
		return bucket.Put([]byte(locator), data)
	})
}

// Restamp records a fresh container stamp, typically after a write-back
// moved the records around. Cached entries are kept: the caller has
// already rewritten them under the new locators.
func (f *FolderIndex) Restamp(stamp Stamp) error {
	data, err := serializeStamp(stamp)
	if err != nil {
		return err
	}
	return f.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(f.name)
		if bucket == nil {
			return fmt.Errorf("index bucket %q is gone", f.name)
		}
		return bucket.Put([]byte(stampKey), data)
	})
}
