package pipeline

import (
	"blinkscan/internal/ime"
	"blinkscan/internal/scanner"
)

// EventKind says why a view was published.
type EventKind int

const (
	EventStart EventKind = iota
	EventTick
	EventBlink
	EventCommit
	EventResume
	EventText
	EventConfig
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventTick:
		return "tick"
	case EventBlink:
		return "blink"
	case EventCommit:
		return "commit"
	case EventResume:
		return "resume"
	case EventText:
		return "text"
	case EventConfig:
		return "config"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// View is what renderers need: the scanner snapshot plus the buffer and
// suggestion labels.
type View struct {
	Seq   uint64    `json:"seq"`
	Event EventKind `json:"event"`

	scanner.Snapshot

	// Labels are the whole words behind the suggestions being scanned.
	Labels []string `json:"labels,omitempty"`

	Text      string  `json:"text"`
	SessionID string  `json:"session_id,omitempty"`
	Blinks    uint64  `json:"blinks"`
	EAR       float64 `json:"ear"`

	// Session carries the live counters of the open session.
	Session *ime.SessionInfo `json:"session,omitempty"`
}

// Event is delivered to observers after each state change.
type Event struct {
	Kind EventKind

	// Commit is set for EventCommit.
	Commit *scanner.Commit

	View View
}

// Observer receives events on the loop goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls fn.
func (fn ObserverFunc) Observe(ev Event) { fn(ev) }
