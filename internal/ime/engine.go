package ime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Reserved glyphs interpreted by the engine.
const (
	GlyphDelete = "⌫"
	GlyphSpace  = "␣"
)

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("ime: no active session")

	// ErrSessionActive is returned by StartSession when one is running.
	ErrSessionActive = errors.New("ime: session already active; call EndSession first")
)

// EditKind classifies a buffer edit.
type EditKind int

const (
	EditInsert EditKind = iota
	EditDelete
	EditSpace
	EditClear
)

func (k EditKind) String() string {
	switch k {
	case EditInsert:
		return "insert"
	case EditDelete:
		return "delete"
	case EditSpace:
		return "space"
	case EditClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Edit describes what a committed symbol did to the buffer.
type Edit struct {
	Kind EditKind
	// Text is the inserted or removed text.
	Text string
}

// SessionOptions configures a typing session.
type SessionOptions struct {
	// Source identifies where blinks come from (websocket, replay, ...).
	Source string

	// Context is optional user-provided context.
	Context string
}

// Session is an active typing session.
type Session struct {
	ID        uuid.UUID
	StartTime time.Time
	Source    string
	Context   string

	blinks   uint64
	inserts  uint64
	deletes  uint64
	startLen int
}

// Transcript is the record of a finished session.
type Transcript struct {
	SessionID      string    `json:"session_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Source         string    `json:"source,omitempty"`
	Context        string    `json:"context,omitempty"`
	Text           string    `json:"text"`
	Blinks         uint64    `json:"blinks"`
	Inserts        uint64    `json:"inserts"`
	Deletes        uint64    `json:"deletes"`
	CharsPerMinute float64   `json:"chars_per_minute"`
}

// ToJSON returns the transcript as a JSON string.
func (t *Transcript) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	return string(data), nil
}

// Engine is the message buffer that committed symbols are typed into. It
// implements the scanner's text sink.
type Engine struct {
	mu      sync.RWMutex
	buf     []byte
	session *Session
	now     func() time.Time
}

// NewEngine creates an engine with an empty buffer.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// SetClock replaces the time source. Replay uses a simulated clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// StartSession begins a new session.
func (e *Engine) StartSession(opts SessionOptions) (SessionInfo, error) {
	if opts.Source == "" {
		opts.Source = "unknown"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return SessionInfo{}, ErrSessionActive
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to generate session ID: %w", err)
	}

	e.session = &Session{
		ID:        id,
		StartTime: e.now(),
		Source:    opts.Source,
		Context:   opts.Context,
		startLen:  utf8.RuneCount(e.buf),
	}
	return e.infoLocked(), nil
}

// CommitSymbol applies a committed symbol to the buffer.
func (e *Engine) CommitSymbol(symbol string) {
	e.Apply(symbol)
}

// Apply interprets a committed symbol: the delete glyph removes the last
// character, the space glyph appends a space, anything else is appended
// verbatim.
func (e *Engine) Apply(symbol string) Edit {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch symbol {
	case GlyphDelete:
		removed := e.deleteRunes(1)
		if e.session != nil {
			e.session.deletes++
		}
		return Edit{Kind: EditDelete, Text: removed}
	case GlyphSpace:
		e.buf = append(e.buf, ' ')
		if e.session != nil {
			e.session.inserts++
		}
		return Edit{Kind: EditSpace, Text: " "}
	default:
		e.buf = append(e.buf, symbol...)
		if e.session != nil {
			e.session.inserts++
		}
		return Edit{Kind: EditInsert, Text: symbol}
	}
}

// deleteRunes counts runes from the end and truncates at that byte offset.
func (e *Engine) deleteRunes(count int) string {
	if count <= 0 {
		return ""
	}
	byteOffset := len(e.buf)
	for byteOffset > 0 && count > 0 {
		_, size := utf8.DecodeLastRune(e.buf[:byteOffset])
		if size == 0 {
			break
		}
		byteOffset -= size
		count--
	}
	removed := string(e.buf[byteOffset:])
	e.buf = e.buf[:byteOffset]
	return removed
}

// RecordBlink counts a blink against the active session.
func (e *Engine) RecordBlink() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.blinks++
	}
}

// Clear empties the buffer.
func (e *Engine) Clear() Edit {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := string(e.buf)
	e.buf = e.buf[:0]
	if e.session != nil {
		e.session.startLen = 0
	}
	return Edit{Kind: EditClear, Text: removed}
}

// Text returns the buffer contents.
func (e *Engine) Text() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return string(e.buf)
}

// LastWord returns the word being typed: the text after the last space, or
// the empty string when the buffer ends with a space.
func (e *Engine) LastWord() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := string(e.buf)
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SessionInfo contains read-only session information.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Source    string    `json:"source"`
	Blinks    uint64    `json:"blinks"`
	Inserts   uint64    `json:"inserts"`
	Deletes   uint64    `json:"deletes"`
	TextLen   int       `json:"text_len"`
}

// GetSessionInfo returns a copy of the current session info (nil if none
// active).
func (e *Engine) GetSessionInfo() *SessionInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil
	}
	info := e.infoLocked()
	return &info
}

func (e *Engine) infoLocked() SessionInfo {
	return SessionInfo{
		ID:        e.session.ID.String(),
		StartTime: e.session.StartTime,
		Source:    e.session.Source,
		Blinks:    e.session.blinks,
		Inserts:   e.session.inserts,
		Deletes:   e.session.deletes,
		TextLen:   utf8.RuneCount(e.buf),
	}
}

// HasActiveSession returns true if a session is currently active.
func (e *Engine) HasActiveSession() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session != nil
}

// EndSession finalizes the current session and returns its transcript. The
// buffer is left untouched.
func (e *Engine) EndSession() (*Transcript, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrNoSession
	}

	end := e.now()
	s := e.session
	typed := utf8.RuneCount(e.buf) - s.startLen
	if typed < 0 {
		typed = 0
	}

	var cpm float64
	if d := end.Sub(s.StartTime); d.Minutes() > 0 {
		cpm = float64(typed) / d.Minutes()
	}

	t := &Transcript{
		SessionID:      s.ID.String(),
		StartTime:      s.StartTime,
		EndTime:        end,
		Source:         s.Source,
		Context:        s.Context,
		Text:           string(e.buf),
		Blinks:         s.blinks,
		Inserts:        s.inserts,
		Deletes:        s.deletes,
		CharsPerMinute: cpm,
	}
	e.session = nil
	return t, nil
}
