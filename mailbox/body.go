package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/creativeprojects/mailstore/lib"
)

// Body is the opaque message payload. It starts Delayed (only a byte
// range or filename is known) and becomes Complete on first access. The
// content is never interpreted: a decoding layer gets bytes or lines and
// may swap in a replacement through Record.ReplaceBody.
type Body struct {
	state   State
	content []byte
	size    int64
	load    LoadFunc
}

// NewBody returns a complete body holding content.
func NewBody(content []byte) *Body {
	return &Body{
		state:   StateComplete,
		content: content,
		size:    int64(len(content)),
	}
}

// NewDelayedBody returns a body realized through load on first access.
// Pass a negative size when it is not known yet.
func NewDelayedBody(load LoadFunc, size int64) *Body {
	return &Body{
		state: StateDelayed,
		size:  size,
		load:  load,
	}
}

func (b *Body) State() State {
	return b.state
}

// Realize reads the body bytes. Idempotent; a failure leaves the body
// delayed.
func (b *Body) Realize() error {
	if b.state == StateComplete {
		return nil
	}
	if b.load == nil {
		return lib.ErrNoContent
	}
	content, err := b.load()
	if err != nil {
		return fmt.Errorf("%w: cannot realize body: %s", lib.ErrStorageIO, err)
	}
	b.content = content
	b.size = int64(len(content))
	b.state = StateComplete
	return nil
}

// dispose drops the realized content, returning the body to the delayed
// state. No-op when there is no loader to bring it back.
func (b *Body) dispose() {
	if b.load == nil {
		return
	}
	b.state = StateDelayed
	b.content = nil
}

func (b *Body) Bytes() ([]byte, error) {
	if err := b.Realize(); err != nil {
		return nil, err
	}
	return b.content, nil
}

// Lines returns the body split into lines, line endings stripped.
func (b *Body) Lines() ([]string, error) {
	if err := b.Realize(); err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(b.content), "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}

func (b *Body) Reader() (io.Reader, error) {
	if err := b.Realize(); err != nil {
		return nil, err
	}
	return bytes.NewReader(b.content), nil
}

// Size returns the body size in bytes, realizing the body only when the
// size was not recorded during the scan. The value is cached.
func (b *Body) Size() (int64, error) {
	if b.size >= 0 {
		return b.size, nil
	}
	if err := b.Realize(); err != nil {
		return 0, err
	}
	return b.size, nil
}
