package lock

// Multi combines several lockers into an all-or-nothing acquisition: Lock
// only reports success when every sub-locker succeeded, and rolls back
// the already-acquired ones in reverse order when a later one fails.
type Multi struct {
	lockers []Locker
	held    bool
}

func NewMulti(lockers ...Locker) *Multi {
	return &Multi{
		lockers: lockers,
	}
}

func (m *Multi) Lock() (bool, error) {
	if m.held {
		return true, nil
	}
	acquired := make([]Locker, 0, len(m.lockers))
	for _, locker := range m.lockers {
		ok, err := locker.Lock()
		if !ok || err != nil {
			rollback(acquired)
			return false, err
		}
		acquired = append(acquired, locker)
	}
	m.held = true
	return true, nil
}

func rollback(acquired []Locker) {
	for i := len(acquired) - 1; i >= 0; i-- {
		_ = acquired[i].Unlock()
	}
}

func (m *Multi) Unlock() error {
	if !m.held {
		return nil
	}
	var firstError error
	for i := len(m.lockers) - 1; i >= 0; i-- {
		if err := m.lockers[i].Unlock(); err != nil && firstError == nil {
			firstError = err
		}
	}
	m.held = false
	return firstError
}

func (m *Multi) HasLock() bool {
	return m.held
}

// IsLocked reports true when any sub-locker reports its identity locked.
// When no sub-locker can probe, it degrades to "unknown" and returns
// ErrCannotProbe.
func (m *Multi) IsLocked() (bool, error) {
	if m.held {
		return true, nil
	}
	probed := false
	for _, locker := range m.lockers {
		locked, err := locker.IsLocked()
		if err != nil {
			continue
		}
		probed = true
		if locked {
			return true, nil
		}
	}
	if !probed {
		return false, ErrCannotProbe
	}
	return false, nil
}
