package signal

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eye builds landmarks for an eye of the given width whose two vertical
// lid pairs are both separated by height, giving EAR = height/width.
func eye(width, height float64) EyeLandmarks {
	return EyeLandmarks{
		{X: 0, Y: 0},
		{X: width / 3, Y: -height / 2},
		{X: 2 * width / 3, Y: -height / 2},
		{X: width, Y: 0},
		{X: 2 * width / 3, Y: height / 2},
		{X: width / 3, Y: height / 2},
	}
}

func newTestDetector(t *testing.T, th Thresholds) *Detector {
	t.Helper()
	d, err := NewDetector(th)
	require.NoError(t, err)
	return d
}

func TestEyeAspectRatio(t *testing.T) {
	ear, err := EyeAspectRatio(eye(30, 9))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, ear, 1e-9)

	_, err = EyeAspectRatio(eye(0, 9))
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestComputeMetricAveragesEyes(t *testing.T) {
	metric, err := ComputeMetric(eye(10, 1), eye(10, 3))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, metric, 1e-9)

	_, err = ComputeMetric(eye(10, 1), eye(0, 0))
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
		ok   bool
	}{
		{"defaults", DefaultThresholds(), true},
		{"zero ear", Thresholds{EAR: 0, ConsecFrames: 1, MaxBlinkFrames: 3}, false},
		{"zero consec", Thresholds{EAR: 0.2, ConsecFrames: 0, MaxBlinkFrames: 3}, false},
		{"max below consec", Thresholds{EAR: 0.2, ConsecFrames: 4, MaxBlinkFrames: 3}, false},
		{"equal window", Thresholds{EAR: 0.2, ConsecFrames: 2, MaxBlinkFrames: 2}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.th.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestProcessFrameScenario(t *testing.T) {
	d := newTestDetector(t, DefaultThresholds())

	var fired []bool
	for _, m := range []float64{0.1, 0.1, 0.25} {
		fired = append(fired, d.ProcessFrame(m))
	}

	assert.Equal(t, []bool{true, false, false}, fired)
	assert.Equal(t, uint64(1), d.State().TotalBlinks)
	assert.Equal(t, 0, d.State().ConsecutiveClosed)
	assert.False(t, d.State().InBlink)
}

func TestSingleClosedFrameYieldsOneEvent(t *testing.T) {
	for _, release := range []bool{false, true} {
		th := DefaultThresholds()
		th.EmitOnRelease = release
		d := newTestDetector(t, th)

		events := 0
		for _, m := range []float64{0.1, 0.3} {
			if d.ProcessFrame(m) {
				events++
			}
		}
		assert.Equal(t, 1, events, "emit on release: %v", release)
	}
}

func TestOpenFrameAlwaysResets(t *testing.T) {
	d := newTestDetector(t, Thresholds{EAR: 0.2, ConsecFrames: 2, MaxBlinkFrames: 4})

	assert.False(t, d.ProcessFrame(0.1))
	assert.Equal(t, 1, d.State().ConsecutiveClosed)
	assert.False(t, d.ProcessFrame(0.2), "threshold itself counts as open")
	assert.Equal(t, 0, d.State().ConsecutiveClosed)

	// A fresh episode has to reach the minimum again.
	assert.False(t, d.ProcessFrame(0.1))
	assert.True(t, d.ProcessFrame(0.1))
}

func TestHeldShutEpisode(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		d := newTestDetector(t, DefaultThresholds())
		events := 0
		for i := 0; i < 10; i++ {
			if d.ProcessFrame(0.05) {
				events++
			}
		}
		// The event fired while the closure was still inside the window;
		// nothing more fires once it runs past it.
		assert.Equal(t, 1, events)
		assert.True(t, d.State().InBlink)
		assert.Equal(t, uint64(1), d.State().HeldEpisodes)
		assert.False(t, d.ProcessFrame(0.3))
		assert.False(t, d.State().InBlink)
	})

	t.Run("emit on release", func(t *testing.T) {
		th := DefaultThresholds()
		th.EmitOnRelease = true
		d := newTestDetector(t, th)
		events := 0
		for i := 0; i < 10; i++ {
			if d.ProcessFrame(0.05) {
				events++
			}
		}
		if d.ProcessFrame(0.3) {
			events++
		}
		assert.Zero(t, events)
		assert.Equal(t, uint64(1), d.State().HeldEpisodes)
	})

	t.Run("consec above one delays the event", func(t *testing.T) {
		d := newTestDetector(t, Thresholds{EAR: 0.2, ConsecFrames: 3, MaxBlinkFrames: 3})
		out := []bool{}
		for i := 0; i < 5; i++ {
			out = append(out, d.ProcessFrame(0.1))
		}
		assert.Equal(t, []bool{false, false, true, false, false}, out)
	})
}

// At most one event per maximal run of closed samples, whatever the input.
func TestAtMostOneEventPerEpisode(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, release := range []bool{false, true} {
		th := Thresholds{EAR: 0.2, ConsecFrames: 2, MaxBlinkFrames: 5, EmitOnRelease: release}
		d := newTestDetector(t, th)

		eventsInRun := 0
		runLen := 0
		for i := 0; i < 5000; i++ {
			m := rng.Float64() * 0.4
			fired := d.ProcessFrame(m)
			closed := m < th.EAR

			if closed {
				runLen++
				if fired {
					eventsInRun++
				}
				require.LessOrEqual(t, eventsInRun, 1)
				continue
			}

			// Under release mode the event for the run lands on this frame.
			if fired {
				require.True(t, release)
				require.GreaterOrEqual(t, runLen, th.ConsecFrames)
				require.LessOrEqual(t, runLen, th.MaxBlinkFrames)
				eventsInRun++
			}
			require.LessOrEqual(t, eventsInRun, 1)
			if release && runLen > th.MaxBlinkFrames {
				require.Zero(t, eventsInRun)
			}
			eventsInRun, runLen = 0, 0
		}
	}
}

func TestProcessLandmarks(t *testing.T) {
	d := newTestDetector(t, DefaultThresholds())

	outcome, metric := d.ProcessLandmarks(eye(30, 9), eye(30, 9))
	assert.Equal(t, FrameOpen, outcome)
	assert.InDelta(t, 0.3, metric, 1e-9)

	outcome, _ = d.ProcessLandmarks(eye(30, 1), eye(30, 1))
	assert.Equal(t, FrameBlink, outcome)

	outcome, _ = d.ProcessLandmarks(eye(30, 1), eye(30, 1))
	assert.Equal(t, FrameClosed, outcome)

	// Degenerate geometry is treated as eyes open.
	outcome, _ = d.ProcessLandmarks(eye(0, 1), eye(30, 1))
	assert.Equal(t, FrameDegenerate, outcome)
	assert.Equal(t, 0, d.State().ConsecutiveClosed)
	assert.False(t, d.State().InBlink)
}

func TestDegenerateFrameReleasesPendingBlink(t *testing.T) {
	th := DefaultThresholds()
	th.EmitOnRelease = true
	d := newTestDetector(t, th)

	outcome, _ := d.ProcessLandmarks(eye(30, 1), eye(30, 1))
	assert.Equal(t, FrameClosed, outcome)
	outcome, _ = d.ProcessLandmarks(eye(0, 0), eye(0, 0))
	assert.Equal(t, FrameBlink, outcome)
}

func TestSetThresholdsKeepsEpisode(t *testing.T) {
	d := newTestDetector(t, DefaultThresholds())
	d.ProcessFrame(0.1)

	require.Error(t, d.SetThresholds(Thresholds{EAR: math.NaN()}))
	require.NoError(t, d.SetThresholds(Thresholds{EAR: 0.25, ConsecFrames: 1, MaxBlinkFrames: 5}))

	assert.Equal(t, 1, d.State().ConsecutiveClosed)
	assert.True(t, d.State().InBlink)
	assert.Equal(t, 0.25, d.Thresholds().EAR)

	d.Reset()
	assert.Equal(t, 0, d.State().ConsecutiveClosed)
	assert.Equal(t, uint64(1), d.State().TotalBlinks)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "blink", FrameBlink.String())
	assert.Equal(t, "held", FrameHeld.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
