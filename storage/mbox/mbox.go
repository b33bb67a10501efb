// Package mbox stores a folder as a single file with messages
// concatenated, each starting with a "From " sentinel line.
package mbox

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/source"
)

const sentinel = "From "

// Backend maps folder operations onto one mbox file.
type Backend struct {
	path   string
	src    *source.File
	log    lib.Logger
	scan   mailbox.ScanOptions
	reopen func(string) (*source.File, error)
}

func New(path string) (*Backend, error) {
	return NewWithLogger(path, nil)
}

func NewWithLogger(path string, logger lib.Logger) (*Backend, error) {
	if logger == nil {
		logger = &lib.NoLog{}
	}
	src, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &Backend{
		path: path,
		src:  src,
		log:  logger,
	}, nil
}

// Create writes a valid empty container: an mbox file with zero messages
// is an empty file.
func Create(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: cannot create %q: %s", lib.ErrStorageIO, path, err)
	}
	return file.Close()
}

func (b *Backend) Kind() string {
	return "mbox"
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Close() error {
	return b.src.Close()
}

// Scan walks the container once, recording the byte range of every
// message. Under a deferred lazy policy no content is parsed, only
// boundaries; under LazyNever every record is realized before Scan
// returns.
func (b *Backend) Scan(opts mailbox.ScanOptions) ([]*mailbox.Record, error) {
	b.scan = opts
	records := make([]*mailbox.Record, 0, 64)

	size, err := b.src.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return records, nil
	}

	var boundary *messageBoundary
	reader := newLineReader(b.src.SectionReader(0, size))
	for {
		line, offset, err := reader.next()
		if err != nil {
			return records, fmt.Errorf("%w: reading %q: %s", lib.ErrStorageIO, b.path, err)
		}
		if line == "" {
			break
		}
		if strings.HasPrefix(line, sentinel) {
			if boundary != nil {
				boundary.end = offset
				records = append(records, b.buildRecord(boundary, opts))
			}
			boundary = &messageBoundary{
				offset:      offset,
				envelope:    strings.TrimRight(line, "\r\n"),
				headerStart: offset + int64(len(line)),
				inHeader:    true,
			}
			continue
		}
		if boundary == nil {
			return records, fmt.Errorf("%w: %q does not start with a %q line", lib.ErrCorrupt, b.path, sentinel)
		}
		if boundary.inHeader && (line == "\n" || line == "\r\n") {
			boundary.inHeader = false
			boundary.bodyStart = offset + int64(len(line))
		}
	}
	if boundary != nil {
		boundary.end = size
		records = append(records, b.buildRecord(boundary, opts))
	}

	if opts.Policy == mailbox.LazyNever {
		for i, record := range records {
			if err := record.Realize(); err != nil {
				// one unreadable record does not fail the folder
				b.log.Printf("mbox: cannot realize message %d: %v", i, err)
			}
		}
	}
	b.log.Printf("mbox: scanned %d messages from %q", len(records), b.path)
	return records, nil
}

type messageBoundary struct {
	offset      int64
	envelope    string
	headerStart int64
	bodyStart   int64
	end         int64
	inHeader    bool
}

func (b *Backend) buildRecord(boundary *messageBoundary, opts mailbox.ScanOptions) *mailbox.Record {
	if boundary.bodyStart == 0 {
		// no blank line: the message is all header
		boundary.bodyStart = boundary.end
	}
	location := mailbox.Location{
		Offset:      boundary.offset,
		Length:      boundary.end - boundary.offset,
		HeaderStart: boundary.headerStart,
		BodyStart:   boundary.bodyStart,
	}

	var record *mailbox.Record
	loadHeader := func() ([]byte, error) {
		loc := record.Location()
		raw, err := b.src.ReadRange(loc.HeaderStart, loc.BodyStart-loc.HeaderStart)
		if err != nil {
			return nil, err
		}
		b.scan.StoreFields(loc.Locator(), raw)
		return raw, nil
	}
	loadBody := func() ([]byte, error) {
		loc := record.Location()
		return b.src.ReadRange(loc.BodyStart, loc.Offset+loc.Length-loc.BodyStart)
	}

	header := mailbox.NewDelayedHeader(loadHeader)
	if fields, ok := opts.CachedFields(location.Locator()); ok {
		header = mailbox.NewPartialHeader(loadHeader, fields)
	}
	body := mailbox.NewDelayedBody(loadBody, location.Offset+location.Length-location.BodyStart)

	record = mailbox.New(location, header, body)
	record.SetEnvelope(boundary.envelope)
	return record
}

// WriteBack rewrites the container into a temporary file and atomically
// renames it over the original. Untouched messages are copied byte for
// byte from their old range; modified or added ones are serialized from
// memory. On any failure the original file stays exactly as it was.
func (b *Backend) WriteBack(records []*mailbox.Record, opts mailbox.WriteOptions) ([]*mailbox.Record, error) {
	rewrite, err := source.NewRewrite(b.path)
	if err != nil {
		return nil, err
	}
	defer rewrite.Abort()

	type relocation struct {
		record   *mailbox.Record
		location mailbox.Location
	}
	kept := make([]relocation, 0, len(records))
	ranges := make(map[string]bool, len(records))

	for _, record := range records {
		if record.IsDummy() {
			return nil, fmt.Errorf("%w: dummy record handed to %q", lib.ErrWriteBackFailed, b.path)
		}
		if record.IsDeleted() && !opts.KeepDeleted {
			continue
		}
		location := record.Location()
		stored := !location.IsZero() && location.InFile()
		if stored {
			// a double-add of the same physical message collapses to
			// one occurrence
			if ranges[location.Locator()] {
				continue
			}
			ranges[location.Locator()] = true
		}

		offset := rewrite.Written()
		var moved mailbox.Location
		if stored && !record.ContentModified() {
			if _, err = b.src.CopyRange(rewrite, location.Offset, location.Length); err != nil {
				return nil, fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
			}
			shift := offset - location.Offset
			moved = mailbox.Location{
				Offset:      offset,
				Length:      location.Length,
				HeaderStart: location.HeaderStart + shift,
				BodyStart:   location.BodyStart + shift,
			}
		} else {
			moved, err = serialize(rewrite, record)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
			}
		}
		kept = append(kept, relocation{record: record, location: moved})
	}

	if err = rewrite.Commit(); err != nil {
		return nil, err
	}

	// the rename went through: move the records onto their new ranges
	// before anything else can fail, the old ranges no longer exist
	survivors := make([]*mailbox.Record, 0, len(kept))
	for _, entry := range kept {
		entry.record.SetLocation(entry.location)
		entry.record.ResetModified()
		survivors = append(survivors, entry.record)
	}

	// the container was replaced, reopen it
	_ = b.src.Close()
	src, err := b.reopenSource()
	if err != nil {
		return survivors, err
	}
	b.src = src

	b.log.Printf("mbox: wrote %d messages to %q", len(survivors), b.path)
	return survivors, nil
}

func (b *Backend) reopenSource() (*source.File, error) {
	if b.reopen != nil {
		return b.reopen(b.path)
	}
	return source.OpenFile(b.path)
}

// serialize writes one in-memory record in mbox form: envelope line,
// header, blank line, body with "From " lines quoted.
func serialize(rewrite *source.Rewrite, record *mailbox.Record) (mailbox.Location, error) {
	envelope := record.Envelope()
	if envelope == "" {
		envelope = sentinel + "MAILER-DAEMON " + time.Now().UTC().Format(time.ANSIC)
	}
	header, err := record.Header().Bytes()
	if err != nil {
		return mailbox.Location{}, err
	}
	body, err := record.Body().Bytes()
	if err != nil {
		return mailbox.Location{}, err
	}

	location := mailbox.Location{Offset: rewrite.Written()}
	if _, err = rewrite.Write([]byte(envelope + "\n")); err != nil {
		return mailbox.Location{}, err
	}
	location.HeaderStart = rewrite.Written()
	if _, err = rewrite.Write(header); err != nil {
		return mailbox.Location{}, err
	}
	if _, err = rewrite.Write([]byte("\n")); err != nil {
		return mailbox.Location{}, err
	}
	location.BodyStart = rewrite.Written()
	if _, err = rewrite.Write(quoteBody(body)); err != nil {
		return mailbox.Location{}, err
	}
	location.Length = rewrite.Written() - location.Offset
	return location, nil
}

// quoteBody escapes body lines that would read as message boundaries and
// makes sure the message ends with a newline.
func quoteBody(body []byte) []byte {
	text := string(body)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, sentinel) {
			lines[i] = ">" + line
		}
	}
	quoted := strings.Join(lines, "\n")
	if !strings.HasSuffix(quoted, "\n") {
		quoted += "\n"
	}
	return []byte(quoted)
}
