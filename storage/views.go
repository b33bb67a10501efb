package storage

import (
	"fmt"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
)

// ByIndex is a positional view over the live, non-deleted messages of a
// folder. Positions are recomputed on every call, so deleting a message
// shifts the ones after it: the view and the folder can never disagree.
type ByIndex struct {
	folder *Folder
}

func (f *Folder) ByIndex() ByIndex {
	return ByIndex{folder: f}
}

func (v ByIndex) Count() int {
	return len(v.folder.Messages())
}

// Get returns the message at position i, counting from zero.
func (v ByIndex) Get(i int) (*mailbox.Record, error) {
	records := v.folder.Messages()
	if i < 0 || i >= len(records) {
		return nil, fmt.Errorf("%w: message %d of %d", lib.ErrNotFound, i, len(records))
	}
	return records[i], nil
}

// Delete flags the message at position i for removal.
func (v ByIndex) Delete(i int) error {
	record, err := v.Get(i)
	if err != nil {
		return err
	}
	record.Delete()
	return nil
}

// ByID is a keyed view over the same messages, addressed by identity
// fingerprint. Identities are computed on first use and served from the
// records' own cache afterwards.
type ByID struct {
	folder *Folder
}

func (f *Folder) ByID() ByID {
	return ByID{folder: f}
}

// Get returns the first message carrying this identity.
func (v ByID) Get(id string) (*mailbox.Record, error) {
	for _, record := range v.folder.Messages() {
		recordID, err := record.ID()
		if err != nil {
			return nil, err
		}
		if recordID == id {
			return record, nil
		}
	}
	return nil, fmt.Errorf("%w: message %q", lib.ErrNotFound, id)
}

// GetOrDummy returns the message carrying this identity, or an
// identity-only placeholder when the folder has no such message.
func (v ByID) GetOrDummy(id string) *mailbox.Record {
	record, err := v.Get(id)
	if err != nil {
		return mailbox.NewDummy(id)
	}
	return record
}

// IDs lists the identities of the non-deleted messages, in folder order.
func (v ByID) IDs() ([]string, error) {
	records := v.folder.Messages()
	ids := make([]string, 0, len(records))
	for _, record := range records {
		id, err := record.ID()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
