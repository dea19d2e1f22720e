// Package feed carries landmark frames into the scanner and scanner
// snapshots out to viewers.
//
// Frames arrive as JSON objects, either over a WebSocket connection or as
// JSON lines from a recording:
//
//	{"ts": 1718000000123, "face": true, "left": [[x,y] x6], "right": [[x,y] x6]}
//
// ts is milliseconds since the Unix epoch. A frame with face=false carries
// no landmarks and is skipped by the detector.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"blinkscan/internal/signal"
)

// ErrInvalidFrame is returned for frames that fail validation.
var ErrInvalidFrame = errors.New("feed: invalid frame")

// Frame is one perception sample.
type Frame struct {
	TS    int64        `json:"ts"`
	Face  bool         `json:"face"`
	Left  [][2]float64 `json:"left,omitempty"`
	Right [][2]float64 `json:"right,omitempty"`
}

// Validate checks that a frame with a face has six points per eye.
func (f *Frame) Validate() error {
	if f.TS < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidFrame, f.TS)
	}
	if !f.Face {
		return nil
	}
	if len(f.Left) != signal.LandmarksPerEye {
		return fmt.Errorf("%w: left eye has %d points, want %d", ErrInvalidFrame, len(f.Left), signal.LandmarksPerEye)
	}
	if len(f.Right) != signal.LandmarksPerEye {
		return fmt.Errorf("%w: right eye has %d points, want %d", ErrInvalidFrame, len(f.Right), signal.LandmarksPerEye)
	}
	return nil
}

// Time returns the frame timestamp, or the zero time when ts is unset.
func (f *Frame) Time() time.Time {
	if f.TS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.TS)
}

// Landmarks converts the frame's points. It must only be called on a
// validated frame with a face.
func (f *Frame) Landmarks() (left, right signal.EyeLandmarks) {
	for i := 0; i < signal.LandmarksPerEye; i++ {
		left[i] = signal.Point{X: f.Left[i][0], Y: f.Left[i][1]}
		right[i] = signal.Point{X: f.Right[i][0], Y: f.Right[i][1]}
	}
	return left, right
}

// NewFrame builds a face frame from landmarks.
func NewFrame(ts time.Time, left, right signal.EyeLandmarks) Frame {
	f := Frame{Face: true, Left: make([][2]float64, signal.LandmarksPerEye), Right: make([][2]float64, signal.LandmarksPerEye)}
	if !ts.IsZero() {
		f.TS = ts.UnixMilli()
	}
	for i := 0; i < signal.LandmarksPerEye; i++ {
		f.Left[i] = [2]float64{left[i].X, left[i].Y}
		f.Right[i] = [2]float64{right[i].X, right[i].Y}
	}
	return f
}

// Decoder reads frames from JSON lines. Blank lines are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder. maxLine bounds a single line; zero selects
// 64 KiB.
func NewDecoder(r io.Reader, maxLine int) *Decoder {
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLine)
	return &Decoder{scanner: s}
}

// Line returns the number of the line last read.
func (d *Decoder) Line() int { return d.line }

// Next returns the next valid frame. It returns io.EOF at the end of input.
// Malformed lines return an error wrapping ErrInvalidFrame; decoding may
// continue after one.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		d.line++
		raw := d.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Frame{}, fmt.Errorf("line %d: %w: %v", d.line, ErrInvalidFrame, err)
		}
		if err := f.Validate(); err != nil {
			return Frame{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return f, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("read frames: %w", err)
	}
	return Frame{}, io.EOF
}

// Encoder writes frames as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one frame.
func (e *Encoder) Encode(f Frame) error {
	return e.enc.Encode(f)
}
