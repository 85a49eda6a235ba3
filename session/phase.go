package session

import "fmt"

// Phase is the lifecycle position of a session. The intended transitions:
//
// paused   -> starting
// starting -> active
// active   -> pausing
// pausing  -> paused
//
// Completion is tracked separately and never moves the phase by itself; it
// requests a pause once the engine is ready.
type Phase int

const (
	Paused Phase = iota
	Starting
	Active
	Pausing
)

func (p Phase) String() string {
	switch p {
	case Paused:
		return "paused"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Pausing:
		return "pausing"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{Paused, Starting, Active, Pausing} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}
