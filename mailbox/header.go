package mailbox

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/creativeprojects/mailstore/lib"
)

// Field is one header line: a name and its raw value. Folded continuation
// lines are kept inside Raw, separated by a newline.
type Field struct {
	Name string
	Raw  string
}

// Header is an ordered list of fields. Insertion order is preserved, names
// compare case-insensitively and duplicates are permitted.
//
// A header starts Delayed (only its location is known), may move to
// Partial (a fixed subset of fields is available from a fast index) and
// ends Complete once the raw bytes have been parsed. The transition is
// monotonic within one open session.
type Header struct {
	state  State
	fields []Field
	load   LoadFunc
	// onChange is notified on every mutation; the owning record uses it
	// to flag itself modified.
	onChange func()
}

// NewHeader returns a complete header built from the given fields.
func NewHeader(fields ...Field) *Header {
	return &Header{
		state:  StateComplete,
		fields: fields,
	}
}

// NewDelayedHeader returns a header that realizes itself through load on
// first content access.
func NewDelayedHeader(load LoadFunc) *Header {
	return &Header{
		state: StateDelayed,
		load:  load,
	}
}

// NewPartialHeader returns a delayed header pre-populated with a subset of
// fields. Any access outside the subset escalates to full realization.
func NewPartialHeader(load LoadFunc, fields []Field) *Header {
	return &Header{
		state:  StatePartial,
		fields: fields,
		load:   load,
	}
}

func (h *Header) State() State {
	return h.state
}

// Realize parses the raw header bytes. It is idempotent and a no-op once
// the header is complete. On failure the header stays in its current
// state.
func (h *Header) Realize() error {
	if h.state == StateComplete {
		return nil
	}
	if h.load == nil {
		return lib.ErrNoContent
	}
	raw, err := h.load()
	if err != nil {
		return fmt.Errorf("%w: cannot realize header: %s", lib.ErrStorageIO, err)
	}
	fields, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	h.fields = fields
	h.state = StateComplete
	return nil
}

// Get returns the value of the first field with this name, or an empty
// string when the message has no such field. On a partial header a miss
// triggers full realization.
func (h *Header) Get(name string) (string, error) {
	if h.state == StatePartial {
		if value, ok := lookupField(h.fields, name); ok {
			return value, nil
		}
	}
	if h.state != StateComplete {
		if err := h.Realize(); err != nil {
			return "", err
		}
	}
	value, _ := lookupField(h.fields, name)
	return value, nil
}

// Values returns every value carried by fields with this name, in order.
func (h *Header) Values(name string) ([]string, error) {
	if err := h.Realize(); err != nil {
		return nil, err
	}
	values := make([]string, 0, 1)
	for _, field := range h.fields {
		if strings.EqualFold(field.Name, name) {
			values = append(values, field.Raw)
		}
	}
	return values, nil
}

// Fields returns the full ordered field list, realizing the header first.
func (h *Header) Fields() ([]Field, error) {
	if err := h.Realize(); err != nil {
		return nil, err
	}
	return h.fields, nil
}

// Add appends a field, keeping existing occurrences of the same name.
func (h *Header) Add(name, raw string) error {
	if err := h.Realize(); err != nil {
		return err
	}
	h.fields = append(h.fields, Field{Name: name, Raw: raw})
	h.notifyChange()
	return nil
}

// Set replaces the first field with this name, or appends one.
func (h *Header) Set(name, raw string) error {
	if err := h.Realize(); err != nil {
		return err
	}
	defer h.notifyChange()
	for i, field := range h.fields {
		if strings.EqualFold(field.Name, name) {
			h.fields[i].Raw = raw
			return nil
		}
	}
	h.fields = append(h.fields, Field{Name: name, Raw: raw})
	return nil
}

func (h *Header) notifyChange() {
	if h.onChange != nil {
		h.onChange()
	}
}

// dispose drops the parsed fields, returning the header to the delayed
// state. No-op when there is no loader to bring them back.
func (h *Header) dispose() {
	if h.load == nil {
		return
	}
	h.state = StateDelayed
	h.fields = nil
}

// Bytes serializes the header, one line per field, folds preserved. The
// blank separator line is not included.
func (h *Header) Bytes() ([]byte, error) {
	if err := h.Realize(); err != nil {
		return nil, err
	}
	buffer := &bytes.Buffer{}
	for _, field := range h.fields {
		buffer.WriteString(field.Name)
		buffer.WriteString(": ")
		buffer.WriteString(field.Raw)
		buffer.WriteString("\n")
	}
	return buffer.Bytes(), nil
}

func lookupField(fields []Field, name string) (string, bool) {
	for _, field := range fields {
		if strings.EqualFold(field.Name, name) {
			return field.Raw, true
		}
	}
	return "", false
}

// ParseHeader parses raw header bytes into an ordered field list. Parsing
// stops at the first blank line. A line that is neither a field nor a
// continuation makes the header corrupt; fields parsed up to that point
// are returned alongside the error.
func ParseHeader(raw []byte) ([]Field, error) {
	fields := make([]Field, 0, 16)
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			// folded continuation of the previous field
			if len(fields) == 0 {
				return fields, fmt.Errorf("%w: header starts with a continuation line", lib.ErrCorrupt)
			}
			fields[len(fields)-1].Raw += "\n" + string(line)
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return fields, fmt.Errorf("%w: malformed header line %q", lib.ErrCorrupt, string(line))
		}
		name := string(bytes.TrimRight(line[:colon], " \t"))
		value := strings.TrimPrefix(string(line[colon+1:]), " ")
		fields = append(fields, Field{Name: name, Raw: value})
	}
	return fields, nil
}
