// Package scanner implements the switch-scanning selector.
//
// A highlight advances over a keyboard grid (first by row, then by column
// within the chosen row) or over a flat list of suggestions. A single binary
// input, the blink, selects whatever is highlighted. Every blink pauses
// scanning for a fixed duration so the user can see what happened.
//
// Timing is kept as data: the scanner records when the next tick and the
// pending resume are due and the owner drives it with Due, so exactly one
// scheduling primitive is needed and a stale tick can never race a pause.
// A Scanner is not safe for concurrent use.
package scanner

import (
	"errors"
	"fmt"
	"time"
)

// Timing defaults and the speed presets.
const (
	DefaultPeriod        = 1500 * time.Millisecond
	DefaultPauseDuration = 3 * time.Second

	PresetFast   = 1 * time.Second
	PresetMedium = 2 * time.Second
	PresetSlow   = 3 * time.Second
)

var (
	// ErrNoSuggestions is returned when entering suggestion mode with an
	// empty list.
	ErrNoSuggestions = errors.New("scanner: no suggestions to scan")

	// ErrInvalidPeriod is returned for a non-positive duration.
	ErrInvalidPeriod = errors.New("scanner: duration must be positive")

	// ErrUnknownPreset is returned by PresetPeriod for an unknown name.
	ErrUnknownPreset = errors.New("scanner: unknown speed preset")
)

// PresetPeriod maps a preset name (slow, medium, fast) to its period.
func PresetPeriod(name string) (time.Duration, error) {
	switch name {
	case "slow":
		return PresetSlow, nil
	case "medium":
		return PresetMedium, nil
	case "fast":
		return PresetFast, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

// Area is the target being scanned.
type Area int

const (
	AreaKeyboard Area = iota
	AreaSuggestions
)

func (a Area) String() string {
	if a == AreaSuggestions {
		return "suggestions"
	}
	return "keyboard"
}

// MarshalText implements encoding.TextMarshaler.
func (a Area) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Mode is the keyboard scanning dimension.
type Mode int

const (
	ModeRow Mode = iota
	ModeColumn
)

func (m Mode) String() string {
	if m == ModeColumn {
		return "column"
	}
	return "row"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Phase is the timer phase.
type Phase int

const (
	PhaseScanning Phase = iota
	PhasePaused
)

func (p Phase) String() string {
	if p == PhasePaused {
		return "paused"
	}
	return "scanning"
}

// Position is the highlighted location. Mode, Row and Col describe the
// keyboard; Index is the suggestion index and only meaningful in
// AreaSuggestions.
type Position struct {
	Area  Area
	Mode  Mode
	Row   int
	Col   int
	Index int
}

// Timer is the scan timer state. While paused, ticks keep their schedule but
// do not advance the highlight.
type Timer struct {
	Period   time.Duration
	Phase    Phase
	ResumeAt time.Time
	NextTick time.Time
}

// TextSink receives committed symbols and suggestion strings. The reserved
// SymbolDelete and SymbolSpace glyphs are passed through verbatim.
type TextSink interface {
	CommitSymbol(symbol string)
}

type discard struct{}

func (discard) CommitSymbol(string) {}

// Options configures a Scanner. Zero durations select the defaults.
type Options struct {
	Period        time.Duration
	PauseDuration time.Duration

	// ExtendPauseOnBlink restarts the pause deadline when a blink arrives
	// while already paused. By default the first deadline stands.
	ExtendPauseOnBlink bool
}

func (o Options) withDefaults() (Options, error) {
	if o.Period == 0 {
		o.Period = DefaultPeriod
	}
	if o.PauseDuration == 0 {
		o.PauseDuration = DefaultPauseDuration
	}
	if o.Period < 0 {
		return o, fmt.Errorf("period %v: %w", o.Period, ErrInvalidPeriod)
	}
	if o.PauseDuration < 0 {
		return o, fmt.Errorf("pause duration %v: %w", o.PauseDuration, ErrInvalidPeriod)
	}
	return o, nil
}

// Commit describes a selection made by a blink.
type Commit struct {
	Area   Area
	Symbol string
	Row    int
	Col    int
	Index  int
}

// Stats counts scanner activity since creation.
type Stats struct {
	Ticks           uint64
	SuppressedTicks uint64
	Blinks          uint64
	Commits         uint64
	Resumes         uint64
	SuggestionScans uint64
}

// DueResult reports what Due fired.
type DueResult struct {
	Resumed  bool
	Ticked   bool
	Advanced bool
}

// Scanner is the selector state machine.
type Scanner struct {
	layout      Layout
	sink        TextSink
	opts        Options
	pos         Position
	suggestions []string
	timer       Timer
	started     bool
	stats       Stats
}

// New creates a scanner at (Keyboard, Row, 0, 0). A nil sink discards
// commits.
func New(layout Layout, sink TextSink, opts Options) (*Scanner, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = discard{}
	}
	return &Scanner{
		layout: layout.Clone(),
		sink:   sink,
		opts:   opts,
		timer:  Timer{Period: opts.Period},
	}, nil
}

// Start schedules the first tick one period after now.
func (s *Scanner) Start(now time.Time) {
	s.started = true
	s.timer.Phase = PhaseScanning
	s.timer.ResumeAt = time.Time{}
	s.timer.NextTick = now.Add(s.timer.Period)
}

// Started reports whether Start was called.
func (s *Scanner) Started() bool { return s.started }

// OnTick advances the highlight one step along the active dimension and
// reports whether it moved. It is a no-op while paused.
func (s *Scanner) OnTick() bool {
	if s.timer.Phase == PhasePaused {
		s.stats.SuppressedTicks++
		return false
	}
	s.stats.Ticks++

	switch {
	case s.pos.Area == AreaSuggestions:
		if len(s.suggestions) == 0 {
			s.returnToKeyboard()
			return true
		}
		s.pos.Index = (s.pos.Index + 1) % len(s.suggestions)
	case s.pos.Mode == ModeRow:
		s.pos.Row = (s.pos.Row + 1) % s.layout.Rows()
	default:
		s.pos.Col = (s.pos.Col + 1) % s.layout.Cols(s.pos.Row)
	}
	return true
}

// OnBlink applies the selection transition for the current position and
// pauses scanning. The returned Commit is valid only when ok is true.
func (s *Scanner) OnBlink(now time.Time) (c Commit, ok bool) {
	s.stats.Blinks++

	switch {
	case s.pos.Area == AreaSuggestions:
		if s.pos.Index < len(s.suggestions) {
			c = Commit{Area: AreaSuggestions, Symbol: s.suggestions[s.pos.Index], Index: s.pos.Index}
			ok = true
		}
		s.returnToKeyboard()
	case s.pos.Mode == ModeRow:
		s.pos.Mode = ModeColumn
		s.pos.Col = 0
	default:
		c = Commit{
			Area:   AreaKeyboard,
			Symbol: s.layout[s.pos.Row][s.pos.Col],
			Row:    s.pos.Row,
			Col:    s.pos.Col,
		}
		ok = true
		s.pos.Mode = ModeRow
	}

	if ok {
		s.stats.Commits++
		s.sink.CommitSymbol(c.Symbol)
	}
	s.pause(now)
	return c, ok
}

func (s *Scanner) pause(now time.Time) {
	if s.timer.Phase == PhasePaused && !s.opts.ExtendPauseOnBlink {
		return
	}
	s.timer.Phase = PhasePaused
	s.timer.ResumeAt = now.Add(s.opts.PauseDuration)
}

func (s *Scanner) returnToKeyboard() {
	s.pos = Position{Area: AreaKeyboard, Mode: ModeRow}
}

// Resume ends the pause. It reports false if scanning was not paused.
func (s *Scanner) Resume() bool {
	if s.timer.Phase != PhasePaused {
		return false
	}
	s.timer.Phase = PhaseScanning
	s.timer.ResumeAt = time.Time{}
	s.stats.Resumes++
	return true
}

// EnterSuggestionMode switches scanning to the given suggestions, starting at
// the first one. It neither pauses nor resumes the timer.
func (s *Scanner) EnterSuggestionMode(list []string) error {
	if len(list) == 0 {
		return ErrNoSuggestions
	}
	s.suggestions = append(s.suggestions[:0], list...)
	s.pos.Area = AreaSuggestions
	s.pos.Index = 0
	s.stats.SuggestionScans++
	return nil
}

// ClearSuggestions drops the suggestion list. If suggestions were being
// scanned, scanning returns to the keyboard origin.
func (s *Scanner) ClearSuggestions() {
	s.suggestions = s.suggestions[:0]
	if s.pos.Area == AreaSuggestions {
		s.returnToKeyboard()
	}
}

// SetPeriod replaces the tick interval. The tick already scheduled keeps its
// deadline.
func (s *Scanner) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("period %v: %w", d, ErrInvalidPeriod)
	}
	s.opts.Period = d
	s.timer.Period = d
	return nil
}

// SetPauseDuration replaces the pause applied by later blinks.
func (s *Scanner) SetPauseDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("pause duration %v: %w", d, ErrInvalidPeriod)
	}
	s.opts.PauseDuration = d
	return nil
}

// SetExtendPauseOnBlink toggles pause extension for blinks during a pause.
func (s *Scanner) SetExtendPauseOnBlink(v bool) {
	s.opts.ExtendPauseOnBlink = v
}

// SetLayout swaps the keyboard grid and returns the keyboard highlight to
// the origin.
func (s *Scanner) SetLayout(l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.layout = l.Clone()
	if s.pos.Area == AreaKeyboard {
		s.returnToKeyboard()
	}
	return nil
}

// Due fires whatever is due at now: first the resume, then at most one tick.
// Missed ticks are not replayed; the next tick is scheduled one period after
// the one that fired, or after now if that is already in the past.
func (s *Scanner) Due(now time.Time) DueResult {
	var r DueResult
	if !s.started {
		return r
	}
	if s.timer.Phase == PhasePaused && !now.Before(s.timer.ResumeAt) {
		r.Resumed = s.Resume()
	}
	if !now.Before(s.timer.NextTick) {
		r.Ticked = true
		r.Advanced = s.OnTick()
		next := s.timer.NextTick.Add(s.timer.Period)
		if !next.After(now) {
			next = now.Add(s.timer.Period)
		}
		s.timer.NextTick = next
	}
	return r
}

// NextDeadline returns the earliest pending deadline, or the zero time if
// the scanner has not been started.
func (s *Scanner) NextDeadline() time.Time {
	if !s.started {
		return time.Time{}
	}
	d := s.timer.NextTick
	if s.timer.Phase == PhasePaused && s.timer.ResumeAt.Before(d) {
		d = s.timer.ResumeAt
	}
	return d
}

// Position returns the current highlight position.
func (s *Scanner) Position() Position { return s.pos }

// Timer returns the timer state.
func (s *Scanner) Timer() Timer { return s.timer }

// Paused reports whether scanning is paused.
func (s *Scanner) Paused() bool { return s.timer.Phase == PhasePaused }

// Stats returns the activity counters.
func (s *Scanner) Stats() Stats { return s.stats }

// Layout returns a copy of the keyboard grid.
func (s *Scanner) Layout() Layout { return s.layout.Clone() }

// Suggestions returns a copy of the current suggestion list.
func (s *Scanner) Suggestions() []string {
	return append([]string(nil), s.suggestions...)
}
