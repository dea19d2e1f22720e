// Package signal turns per-frame eye landmarks into discrete blink events.
//
// The perception component supplies six points per eye every frame. The
// package reduces them to a single openness scalar (the eye aspect ratio,
// EAR) and runs a small debounce state machine over that scalar so that one
// physical blink produces exactly one logical event:
//
//	landmarks → EAR (per eye) → mean → Detector.ProcessFrame → blink?
//
// By default the event fires as soon as the closed count reaches
// ConsecFrames, so a closure held past MaxBlinkFrames still fires once.
// With EmitOnRelease the event waits for the eyes to reopen, and closures
// longer than MaxBlinkFrames count as the eyes being held shut and produce
// no event at all.
package signal

import (
	"errors"
	"math"
)

// Point is a 2D landmark coordinate, in frame pixels or normalized units.
// Both eyes of a frame must use the same coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmark indices within EyeLandmarks.
const (
	OuterCorner = 0
	UpperLid1   = 1
	UpperLid2   = 2
	InnerCorner = 3
	LowerLid2   = 4
	LowerLid1   = 5

	// LandmarksPerEye is the number of points supplied per eye.
	LandmarksPerEye = 6
)

// EyeLandmarks holds the six ordered points of one eye: outer corner, two
// upper lid points, inner corner, two lower lid points. UpperLid1 pairs with
// LowerLid1 and UpperLid2 with LowerLid2.
type EyeLandmarks [LandmarksPerEye]Point

// ErrDegenerateGeometry is returned when an eye has zero horizontal width.
var ErrDegenerateGeometry = errors.New("signal: degenerate eye geometry")

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes the ratio of mean vertical lid separation to
// horizontal eye width for a single eye.
func EyeAspectRatio(eye EyeLandmarks) (float64, error) {
	width := distance(eye[OuterCorner], eye[InnerCorner])
	if width == 0 || math.IsNaN(width) {
		return 0, ErrDegenerateGeometry
	}
	a := distance(eye[UpperLid1], eye[LowerLid1])
	b := distance(eye[UpperLid2], eye[LowerLid2])
	return (a + b) / (2.0 * width), nil
}

// ComputeMetric returns the mean EAR of both eyes.
func ComputeMetric(left, right EyeLandmarks) (float64, error) {
	l, err := EyeAspectRatio(left)
	if err != nil {
		return 0, err
	}
	r, err := EyeAspectRatio(right)
	if err != nil {
		return 0, err
	}
	return (l + r) / 2.0, nil
}
