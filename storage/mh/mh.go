// Package mh stores a folder as a directory with one file per message,
// named by a dense positive integer sequence, and per-message labels
// persisted in a shared sequences file.
package mh

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/source"
)

// Backend maps folder operations onto an MH directory.
type Backend struct {
	path string
	log  lib.Logger
	seq  *sequences
	scan mailbox.ScanOptions
}

func New(path string) (*Backend, error) {
	return NewWithLogger(path, nil)
}

func NewWithLogger(path string, logger lib.Logger) (*Backend, error) {
	if logger == nil {
		logger = &lib.NoLog{}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", lib.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: cannot open %q: %s", lib.ErrStorageIO, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", lib.ErrCorrupt, path)
	}
	return &Backend{
		path: path,
		log:  logger,
		seq:  newSequences(),
	}, nil
}

// Create makes an empty MH folder: a directory with an empty sequences
// file.
func Create(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("%w: cannot create %q: %s", lib.ErrStorageIO, path, err)
	}
	file, err := os.OpenFile(filepath.Join(path, SequencesFile), os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("%w: cannot create sequences in %q: %s", lib.ErrStorageIO, path, err)
	}
	return file.Close()
}

func (b *Backend) Kind() string {
	return "mh"
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Close() error {
	return nil
}

// Scan lists the numbered message files in ascending order and reads the
// sequences file into per-record labels. Message content stays on disk
// until realization.
func (b *Backend) Scan(opts mailbox.ScanOptions) ([]*mailbox.Record, error) {
	b.scan = opts

	entries, err := os.ReadDir(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list %q: %s", lib.ErrStorageIO, b.path, err)
	}
	numbers := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if number, err := strconv.Atoi(entry.Name()); err == nil && number > 0 {
			numbers = append(numbers, number)
		}
	}
	sort.Ints(numbers)

	b.seq = b.readSequences()

	records := make([]*mailbox.Record, 0, len(numbers))
	byNumber := make(map[int]*mailbox.Record, len(numbers))
	for _, number := range numbers {
		record := b.buildRecord(number, opts)
		records = append(records, record)
		byNumber[number] = record
	}
	for _, name := range b.seq.names() {
		label := seqToLabel(name)
		for _, number := range b.seq.numbersFor(name) {
			if record, ok := byNumber[number]; ok {
				record.InitLabel(label, true)
			}
		}
	}

	if opts.Policy == mailbox.LazyNever {
		for _, record := range records {
			if err := record.Realize(); err != nil {
				b.log.Printf("mh: cannot realize message %d: %v", record.Location().Number, err)
			}
		}
	}
	b.log.Printf("mh: scanned %d messages from %q", len(records), b.path)
	return records, nil
}

func (b *Backend) readSequences() *sequences {
	content, err := os.ReadFile(filepath.Join(b.path, SequencesFile))
	if err != nil {
		// a missing sequences file simply means no labels
		return newSequences()
	}
	seq, err := parseSequences(content)
	if err != nil {
		// keep the labels parsed before the malformed line
		b.log.Printf("mh: %v", err)
	}
	return seq
}

func (b *Backend) buildRecord(number int, opts mailbox.ScanOptions) *mailbox.Record {
	location := mailbox.Location{
		Filename: strconv.Itoa(number),
		Number:   number,
	}

	var record *mailbox.Record
	loadHeader := func() ([]byte, error) {
		content, err := source.ReadWhole(filepath.Join(b.path, record.Location().Filename))
		if err != nil {
			return nil, err
		}
		rawHeader, _ := mailbox.SplitContent(content)
		b.scan.StoreFields(record.Location().Locator(), rawHeader)
		return rawHeader, nil
	}
	loadBody := func() ([]byte, error) {
		content, err := source.ReadWhole(filepath.Join(b.path, record.Location().Filename))
		if err != nil {
			return nil, err
		}
		_, rawBody := mailbox.SplitContent(content)
		return rawBody, nil
	}

	header := mailbox.NewDelayedHeader(loadHeader)
	if fields, ok := opts.CachedFields(location.Locator()); ok {
		header = mailbox.NewPartialHeader(loadHeader, fields)
	}
	record = mailbox.New(location, header, mailbox.NewDelayedBody(loadBody, -1))
	return record
}

// WriteBack reconciles the directory with the in-memory records: deleted
// records lose their files, added or content-modified ones are written
// out, and the numbering is optionally compacted to 1..n. Unmodified
// messages are left untouched on disk unless renumbering forces a
// rename. The sequences file is rewritten last from the final label
// state.
func (b *Backend) WriteBack(records []*mailbox.Record, opts mailbox.WriteOptions) ([]*mailbox.Record, error) {
	kept := make([]*mailbox.Record, 0, len(records))
	doomed := make([]*mailbox.Record, 0)
	seen := make(map[string]bool, len(records))
	highest := 0

	for _, record := range records {
		if record.IsDummy() {
			return nil, fmt.Errorf("%w: dummy record handed to %q", lib.ErrWriteBackFailed, b.path)
		}
		location := record.Location()
		if location.Number > highest {
			highest = location.Number
		}
		if record.IsDeleted() && !opts.KeepDeleted {
			if location.Filename != "" {
				doomed = append(doomed, record)
			}
			continue
		}
		if location.Filename != "" {
			if seen[location.Filename] {
				// double-add of the same physical message
				continue
			}
			seen[location.Filename] = true
		}
		kept = append(kept, record)
	}

	// realize everything that needs serializing before touching any file,
	// so a read failure aborts with the directory intact
	contents := make(map[*mailbox.Record][]byte)
	for _, record := range kept {
		if record.Location().Filename != "" && !record.ContentModified() {
			continue
		}
		content, err := record.Content()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
		}
		contents[record] = content
	}

	targets := b.assignNumbers(kept, opts.Renumber, highest)

	for _, record := range doomed {
		filename := filepath.Join(b.path, record.Location().Filename)
		if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: cannot remove %q: %s", lib.ErrWriteBackFailed, filename, err)
		}
	}

	if err := b.moveSurvivors(kept, targets, contents); err != nil {
		return nil, err
	}

	if err := b.writeSequences(kept, targets); err != nil {
		return nil, err
	}

	for i, record := range kept {
		record.SetLocation(mailbox.Location{
			Filename: strconv.Itoa(targets[i]),
			Number:   targets[i],
		})
		record.ResetModified()
	}
	b.log.Printf("mh: wrote %d messages to %q", len(kept), b.path)
	return kept, nil
}

// assignNumbers gives every surviving record its final message number:
// the slot position when renumbering, otherwise its current number, with
// added records taking numbers above the highest seen.
func (b *Backend) assignNumbers(kept []*mailbox.Record, renumber bool, highest int) []int {
	targets := make([]int, len(kept))
	next := highest
	for i, record := range kept {
		if renumber {
			targets[i] = i + 1
			continue
		}
		if number := record.Location().Number; number > 0 {
			targets[i] = number
			continue
		}
		next++
		targets[i] = next
	}
	return targets
}

// moveSurvivors renames stored files to their target numbers in two
// phases through temporary names, so overlapping source and target
// numbers cannot collide, then writes added and modified content. Stale
// files of modified records are removed first: their content is already
// in memory and their number may be reused by another record.
func (b *Backend) moveSurvivors(kept []*mailbox.Record, targets []int, contents map[*mailbox.Record][]byte) error {
	for i, record := range kept {
		if _, dirty := contents[record]; !dirty {
			continue
		}
		location := record.Location()
		if location.Filename == "" || location.Filename == strconv.Itoa(targets[i]) {
			continue
		}
		old := filepath.Join(b.path, location.Filename)
		if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: cannot remove %q: %s", lib.ErrWriteBackFailed, old, err)
		}
	}

	type move struct {
		from string
		via  string
		to   string
	}
	moves := make([]move, 0)
	for i, record := range kept {
		location := record.Location()
		if location.Filename == "" || record.ContentModified() {
			continue
		}
		target := strconv.Itoa(targets[i])
		if location.Filename == target {
			continue
		}
		moves = append(moves, move{
			from: filepath.Join(b.path, location.Filename),
			via:  filepath.Join(b.path, ".renumber-"+target),
			to:   filepath.Join(b.path, target),
		})
	}
	for _, m := range moves {
		if err := os.Rename(m.from, m.via); err != nil {
			return fmt.Errorf("%w: cannot rename %q: %s", lib.ErrWriteBackFailed, m.from, err)
		}
	}
	for _, m := range moves {
		if err := os.Rename(m.via, m.to); err != nil {
			return fmt.Errorf("%w: cannot rename %q: %s", lib.ErrWriteBackFailed, m.via, err)
		}
	}

	for i, record := range kept {
		content, dirty := contents[record]
		if !dirty {
			continue
		}
		if err := b.writeMessage(strconv.Itoa(targets[i]), content); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) writeMessage(filename string, content []byte) error {
	rewrite, err := source.NewRewrite(filepath.Join(b.path, filename))
	if err != nil {
		return err
	}
	defer rewrite.Abort()
	if _, err = rewrite.Write(content); err != nil {
		return fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
	}
	return rewrite.Commit()
}

// writeSequences rebuilds the sequences file from the final label state,
// keeping the original line order for sequences that survive and
// appending new ones.
func (b *Backend) writeSequences(kept []*mailbox.Record, targets []int) error {
	collected := map[string][]int{}
	for i, record := range kept {
		for _, label := range record.Labels() {
			name := labelToSeq(label)
			collected[name] = append(collected[name], targets[i])
		}
	}

	final := newSequences()
	for _, name := range b.seq.names() {
		if numbers, ok := collected[name]; ok {
			final.set(name, numbers)
			delete(collected, name)
		}
	}
	added := make([]string, 0, len(collected))
	for name := range collected {
		added = append(added, name)
	}
	sort.Strings(added)
	for _, name := range added {
		final.set(name, collected[name])
	}

	rewrite, err := source.NewRewrite(filepath.Join(b.path, SequencesFile))
	if err != nil {
		return err
	}
	defer rewrite.Abort()
	if _, err = rewrite.Write(final.bytes()); err != nil {
		return fmt.Errorf("%w: %s", lib.ErrWriteBackFailed, err)
	}
	if err = rewrite.Commit(); err != nil {
		return err
	}
	b.seq = final
	return nil
}
