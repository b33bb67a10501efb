package mailbox

// LazyPolicy controls how aggressively records are realized when a folder
// is scanned.
type LazyPolicy int

const (
	// LazyOnDemand defers realization to the first content access.
	LazyOnDemand LazyPolicy = iota
	// LazyAlways also defers realization; it additionally releases
	// realized parts back to the delayed state after a write-back.
	LazyAlways
	// LazyNever realizes every record during the scan.
	LazyNever
)

// WriteMode controls whether a folder writes back its changes on Close.
type WriteMode int

const (
	// WriteIfModified writes back only when a record was added, deleted
	// or modified.
	WriteIfModified WriteMode = iota
	// WriteAlways runs a write-back unconditionally.
	WriteAlways
	// WriteNever releases the folder without writing.
	WriteNever
)

// WriteOptions control the write-back algorithm.
type WriteOptions struct {
	// KeepDeleted writes records flagged as deleted back to the container
	// instead of dropping them.
	KeepDeleted bool
	// Renumber closes the numbering gaps left by deletions (MH layout
	// only: files are renamed to a contiguous 1..n sequence).
	Renumber bool
}

// FieldIndex caches a subset of header fields keyed by a record locator,
// so a scan can build partial headers without reading the message.
type FieldIndex interface {
	Get(locator string) (map[string]string, bool)
	Put(locator string, fields map[string]string) error
}

// ScanOptions are passed by the folder to its backend when scanning.
type ScanOptions struct {
	Policy LazyPolicy
	// Take lists the header fields kept in the field index and available
	// in partial headers.
	Take []string
	// Index is optional; without it headers start fully delayed.
	Index FieldIndex
	// ReadOnly forbids any mutation of the container during the scan,
	// such as accepting pending Maildir deliveries.
	ReadOnly bool
}

// CachedFields builds the partial header subset for a record from the
// field index, in Take order.
func (o ScanOptions) CachedFields(locator string) ([]Field, bool) {
	if o.Index == nil || len(o.Take) == 0 {
		return nil, false
	}
	cached, ok := o.Index.Get(locator)
	if !ok {
		return nil, false
	}
	fields := make([]Field, 0, len(o.Take))
	for _, name := range o.Take {
		if value, ok := cached[name]; ok {
			fields = append(fields, Field{Name: name, Raw: value})
		}
	}
	return fields, true
}

// StoreFields extracts the Take subset from freshly read header bytes and
// stores it in the field index. Failures are ignored: the index is a
// cache.
func (o ScanOptions) StoreFields(locator string, rawHeader []byte) {
	if o.Index == nil || len(o.Take) == 0 {
		return
	}
	fields, err := ParseHeader(rawHeader)
	if err != nil {
		return
	}
	taken := make(map[string]string, len(o.Take))
	for _, name := range o.Take {
		if value, ok := lookupField(fields, name); ok {
			taken[name] = value
		}
	}
	_ = o.Index.Put(locator, taken)
}
