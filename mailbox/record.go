package mailbox

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/creativeprojects/mailstore/lib"
)

// Location describes where a record lives inside its physical container.
// Single-file layouts use the byte range fields, directory layouts use the
// filename fields; unused fields stay zero.
type Location struct {
	// Offset of the first byte of the record (its envelope line).
	Offset int64
	// Length of the whole record, envelope line included.
	Length int64
	// HeaderStart is the offset of the first header byte.
	HeaderStart int64
	// BodyStart is the offset of the first body byte.
	BodyStart int64
	// Filename of the message file (directory layouts).
	Filename string
	// Number is the MH message number.
	Number int
	// Key is the Maildir unique key.
	Key string
}

// InFile reports whether the location points inside a shared container
// file rather than at a file of its own.
func (l Location) InFile() bool {
	return l.Filename == ""
}

// IsZero reports whether the record has no physical location yet (a
// record added in memory and not written back).
func (l Location) IsZero() bool {
	return l == Location{}
}

// Locator is a stable string form of the location, used as field index
// key.
func (l Location) Locator() string {
	if l.Key != "" {
		return "key:" + l.Key
	}
	if l.Filename != "" {
		return "file:" + l.Filename
	}
	return fmt.Sprintf("range:%d+%d", l.Offset, l.Length)
}

// Record is one message slot in a folder: a lazily realized header and
// body, a location, soft deletion and modification flags, and a label
// set. Records are owned by their folder; references held by
// collaborators are only valid while the folder stays open.
type Record struct {
	header     *Header
	body       *Body
	envelope   string
	location   Location
	deleted    bool
	modified   bool
	dirty      bool
	labels     map[string]bool
	residue    string
	syncLabels func(*Record) error
	dummy      bool
	identity   string
}

// New returns a record over the given parts.
func New(location Location, header *Header, body *Body) *Record {
	record := &Record{
		header:   header,
		body:     body,
		location: location,
		labels:   map[string]bool{},
	}
	if header != nil {
		header.onChange = record.MarkModified
	}
	return record
}

// NewFromContent parses a full raw message (header, blank line, body)
// into a complete record with no location. The record is marked modified
// so a write-back serializes it.
func NewFromContent(content []byte) (*Record, error) {
	rawHeader, rawBody := SplitContent(content)
	fields, err := ParseHeader(rawHeader)
	if err != nil {
		return nil, err
	}
	record := New(Location{}, NewHeader(fields...), NewBody(rawBody))
	record.modified = true
	record.dirty = true
	return record, nil
}

// NewDummy returns a placeholder for a message referenced by identity but
// absent from the folder. It answers content queries with ErrNoContent
// and is rejected by write-back.
func NewDummy(identity string) *Record {
	return &Record{
		dummy:    true,
		identity: identity,
		labels:   map[string]bool{},
	}
}

// SplitContent separates raw message bytes into header and body at the
// first blank line.
func SplitContent(content []byte) (header []byte, body []byte) {
	if separator := bytes.Index(content, []byte("\n\n")); separator >= 0 {
		return content[:separator+1], content[separator+2:]
	}
	if separator := bytes.Index(content, []byte("\r\n\r\n")); separator >= 0 {
		return content[:separator+2], content[separator+4:]
	}
	// no body
	return content, nil
}

func (r *Record) IsDummy() bool {
	return r.dummy
}

func (r *Record) Header() *Header {
	return r.header
}

func (r *Record) Body() *Body {
	return r.body
}

func (r *Record) RealizeHeader() error {
	if r.dummy {
		return lib.ErrNoContent
	}
	return r.header.Realize()
}

func (r *Record) RealizeBody() error {
	if r.dummy {
		return lib.ErrNoContent
	}
	return r.body.Realize()
}

// Realize brings both header and body to the Complete state.
func (r *Record) Realize() error {
	if err := r.RealizeHeader(); err != nil {
		return err
	}
	return r.RealizeBody()
}

// Realized reports whether both header and body are complete.
func (r *Record) Realized() bool {
	if r.dummy {
		return false
	}
	return r.header.State() == StateComplete && r.body.State() == StateComplete
}

// Delete flags the record for removal. Physical storage is only touched
// by the next write-back; until then the deletion is reversible.
func (r *Record) Delete() {
	r.deleted = true
}

func (r *Record) Undelete() {
	r.deleted = false
}

func (r *Record) IsDeleted() bool {
	return r.deleted
}

// Modified reports whether the record content or labels changed since the
// last successful write-back. The flag is sticky until then.
func (r *Record) Modified() bool {
	return r.modified
}

// ContentModified reports whether the header or body themselves changed,
// as opposed to a label-only change. Backends storing labels outside the
// message file use it to skip rewriting untouched content.
func (r *Record) ContentModified() bool {
	return r.dirty
}

// MarkModified flags the record content as changed, forcing the next
// write-back to re-serialize it.
func (r *Record) MarkModified() {
	r.modified = true
	r.dirty = true
}

// ResetModified is called by backends once a write-back succeeded.
func (r *Record) ResetModified() {
	r.modified = false
	r.dirty = false
}

// Dispose releases realized header and body content, returning both parts
// to the delayed state. No-op on dummy records, on records with unwritten
// changes, and on records without a physical location to reload from.
func (r *Record) Dispose() {
	if r.dummy || r.modified || r.dirty || r.location.IsZero() {
		return
	}
	r.header.dispose()
	r.body.dispose()
}

// HasLabel reports whether the label is set on the record.
func (r *Record) HasLabel(name string) bool {
	return r.labels[name]
}

// Labels returns the set labels, sorted by name.
func (r *Record) Labels() []string {
	names := make([]string, 0, len(r.labels))
	for name, on := range r.labels {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SetLabel turns a label on or off. On most backends the change is
// batched: the record is marked modified and the label persisted by the
// next write-back. A backend with self-synchronizing labels (Maildir)
// installs a hook that applies the change immediately instead.
func (r *Record) SetLabel(name string, on bool) error {
	if r.dummy {
		return lib.ErrNoContent
	}
	if r.labels[name] == on {
		return nil
	}
	if on {
		r.labels[name] = true
	} else {
		delete(r.labels, name)
	}
	if r.syncLabels != nil {
		return r.syncLabels(r)
	}
	r.modified = true
	return nil
}

// InitLabel sets a label as found in the physical container during a
// scan, without flagging the record as modified.
func (r *Record) InitLabel(name string, on bool) {
	if on {
		r.labels[name] = true
	} else {
		delete(r.labels, name)
	}
}

// OnLabelChange installs the backend hook making labels
// self-synchronizing. The hook runs after the in-memory label set
// changed.
func (r *Record) OnLabelChange(sync func(*Record) error) {
	r.syncLabels = sync
}

// Envelope is the backend pseudo-field holding the mbox "From " line of
// the record; empty on directory layouts.
func (r *Record) Envelope() string {
	return r.envelope
}

func (r *Record) SetEnvelope(line string) {
	r.envelope = line
}

// Residue holds unrecognized Maildir flag letters, preserved verbatim.
func (r *Record) Residue() string {
	return r.residue
}

func (r *Record) SetResidue(residue string) {
	r.residue = residue
}

func (r *Record) Location() Location {
	return r.location
}

func (r *Record) SetLocation(location Location) {
	r.location = location
}

// ID returns the identity fingerprint of the record: the canonical
// Message-ID when the header carries one (available from the partial
// fast path without full realization), otherwise a hash of the full
// content.
func (r *Record) ID() (string, error) {
	if r.dummy {
		return r.identity, nil
	}
	if r.identity != "" {
		return r.identity, nil
	}
	messageID, err := r.header.Get("Message-Id")
	if err != nil {
		return "", err
	}
	if messageID != "" {
		r.identity = CanonicalMessageID(messageID)
		return r.identity, nil
	}
	content, err := r.Content()
	if err != nil {
		return "", err
	}
	r.identity = ContentFingerprint(content)
	return r.identity, nil
}

// Content serializes the record: header, blank line, body.
func (r *Record) Content() ([]byte, error) {
	if r.dummy {
		return nil, lib.ErrNoContent
	}
	header, err := r.header.Bytes()
	if err != nil {
		return nil, err
	}
	body, err := r.body.Bytes()
	if err != nil {
		return nil, err
	}
	content := make([]byte, 0, len(header)+1+len(body))
	content = append(content, header...)
	content = append(content, '\n')
	content = append(content, body...)
	return content, nil
}

// SameContent reports whether both records serialize to the same bytes.
// Used to tell a true duplicate from a fingerprint collision.
func (r *Record) SameContent(other *Record) (bool, error) {
	mine, err := r.Content()
	if err != nil {
		return false, err
	}
	theirs, err := other.Content()
	if err != nil {
		return false, err
	}
	return bytes.Equal(mine, theirs), nil
}

// ReplaceBody swaps in a replacement body, the callback used by a
// decoding layer. The record is re-serialized on the next write-back.
func (r *Record) ReplaceBody(content []byte) error {
	if r.dummy {
		return lib.ErrNoContent
	}
	r.body = NewBody(content)
	r.modified = true
	r.dirty = true
	r.identity = ""
	return nil
}
