package mailbox

// State tracks how much of a message part has been parsed. A part only
// moves forward: Delayed to Partial to Complete, never back.
type State int

const (
	// StateDelayed means only the location of the part is known.
	StateDelayed State = iota
	// StatePartial means a fixed subset of header fields is available
	// without the raw bytes having been read.
	StatePartial
	// StateComplete means the part is fully parsed.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateDelayed:
		return "delayed"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// LoadFunc reads the raw bytes of a message part from its container.
type LoadFunc func() ([]byte, error)
