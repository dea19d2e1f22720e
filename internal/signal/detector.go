package signal

import (
	"errors"
	"fmt"
	"math"
)

// Default debounce parameters.
const (
	DefaultEARThreshold   = 0.2
	DefaultConsecFrames   = 1
	DefaultMaxBlinkFrames = 3
)

// Thresholds configures the debounce window.
type Thresholds struct {
	// EAR below this value classifies a frame as eyes closed.
	EAR float64

	// ConsecFrames is the minimum closed-frame count that counts as a blink.
	ConsecFrames int

	// MaxBlinkFrames is the maximum closed-frame count that still counts as a
	// blink. Longer closures are treated as eyes held shut.
	MaxBlinkFrames int

	// EmitOnRelease defers the event to the first open frame after the
	// closure, so an episode that runs past MaxBlinkFrames never fires.
	// The default fires as soon as the closed count enters the window.
	EmitOnRelease bool
}

// DefaultThresholds returns the default debounce window.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EAR:            DefaultEARThreshold,
		ConsecFrames:   DefaultConsecFrames,
		MaxBlinkFrames: DefaultMaxBlinkFrames,
	}
}

// Validate checks that the window is usable.
func (t Thresholds) Validate() error {
	if !(t.EAR > 0) || math.IsInf(t.EAR, 0) {
		return fmt.Errorf("signal: EAR threshold must be positive, got %v", t.EAR)
	}
	if t.ConsecFrames < 1 {
		return fmt.Errorf("signal: consecutive frame threshold must be at least 1, got %d", t.ConsecFrames)
	}
	if t.MaxBlinkFrames < t.ConsecFrames {
		return fmt.Errorf("signal: max blink frames (%d) below consecutive frame threshold (%d)", t.MaxBlinkFrames, t.ConsecFrames)
	}
	return nil
}

// State is the debounce state of a Detector.
type State struct {
	// ConsecutiveClosed is the length of the current closure episode.
	ConsecutiveClosed int

	// InBlink is latched once an event was emitted (or suppressed) for the
	// current episode and cleared on the first open frame.
	InBlink bool

	// TotalBlinks counts emitted events since creation.
	TotalBlinks uint64

	// HeldEpisodes counts closure episodes that ran past MaxBlinkFrames.
	HeldEpisodes uint64
}

// Outcome classifies a processed frame.
type Outcome int

const (
	// FrameOpen means the eyes were open; debounce state was reset.
	FrameOpen Outcome = iota
	// FrameClosed means the eyes were closed but no event fired this frame.
	FrameClosed
	// FrameBlink means a blink event fired this frame.
	FrameBlink
	// FrameHeld means this frame pushed the episode past MaxBlinkFrames.
	FrameHeld
	// FrameDegenerate means the landmarks had zero width and the frame was
	// treated as eyes open.
	FrameDegenerate
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case FrameOpen:
		return "open"
	case FrameClosed:
		return "closed"
	case FrameBlink:
		return "blink"
	case FrameHeld:
		return "held"
	case FrameDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Detector is the stateful blink debouncer. It is not safe for concurrent
// use; frames must be fed in order from a single goroutine.
type Detector struct {
	thresholds Thresholds
	state      State
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(t Thresholds) (*Detector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Detector{thresholds: t}, nil
}

// Thresholds returns the active debounce window.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// SetThresholds replaces the debounce window. The in-flight episode keeps its
// closed count and latch.
func (d *Detector) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	d.thresholds = t
	return nil
}

// State returns a copy of the debounce state.
func (d *Detector) State() State {
	return d.state
}

// ProcessFrame feeds one frame's openness metric and reports whether a blink
// event fired.
func (d *Detector) ProcessFrame(metric float64) bool {
	return d.classify(metric) == FrameBlink
}

func (d *Detector) classify(metric float64) Outcome {
	// NaN compares false against everything; treat it as open.
	if metric >= d.thresholds.EAR || math.IsNaN(metric) {
		return d.open()
	}

	d.state.ConsecutiveClosed++
	n := d.state.ConsecutiveClosed

	if n > d.thresholds.MaxBlinkFrames {
		if n == d.thresholds.MaxBlinkFrames+1 {
			d.state.HeldEpisodes++
			// Latch so nothing fires until the eyes reopen.
			d.state.InBlink = true
			return FrameHeld
		}
		return FrameClosed
	}

	if d.thresholds.EmitOnRelease {
		return FrameClosed
	}

	if n >= d.thresholds.ConsecFrames && !d.state.InBlink {
		d.state.InBlink = true
		d.state.TotalBlinks++
		return FrameBlink
	}
	return FrameClosed
}

func (d *Detector) open() Outcome {
	n := d.state.ConsecutiveClosed
	released := d.thresholds.EmitOnRelease && !d.state.InBlink &&
		n >= d.thresholds.ConsecFrames && n <= d.thresholds.MaxBlinkFrames

	d.state.ConsecutiveClosed = 0
	d.state.InBlink = false

	if released {
		d.state.TotalBlinks++
		return FrameBlink
	}
	return FrameOpen
}

// ProcessLandmarks computes the metric for a frame and feeds it. Degenerate
// landmarks are treated as an eyes-open frame.
func (d *Detector) ProcessLandmarks(left, right EyeLandmarks) (Outcome, float64) {
	metric, err := ComputeMetric(left, right)
	if err != nil {
		if errors.Is(err, ErrDegenerateGeometry) && d.open() == FrameBlink {
			return FrameBlink, 0
		}
		return FrameDegenerate, 0
	}
	return d.classify(metric), metric
}

// Reset clears the episode state, keeping the lifetime counters.
func (d *Detector) Reset() {
	d.state.ConsecutiveClosed = 0
	d.state.InBlink = false
}
