package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinkscan/internal/config"
	"blinkscan/internal/feed"
	"blinkscan/internal/ime"
	"blinkscan/internal/metrics"
	"blinkscan/internal/predict"
	"blinkscan/internal/scanner"
	"blinkscan/internal/signal"
	"blinkscan/internal/store"
)

const baseMs = 1_700_000_000_000

func openEye() signal.EyeLandmarks {
	return signal.EyeLandmarks{{X: 0, Y: 0}, {X: 1, Y: -1}, {X: 2, Y: -1}, {X: 3, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 1}}
}

func closedEye() signal.EyeLandmarks {
	return signal.EyeLandmarks{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}, {X: 2, Y: 0}, {X: 1, Y: 0}}
}

// script renders one frame every 100ms from 0 to endMs. Frames at the listed
// offsets have closed eyes.
func script(t *testing.T, endMs int64, closed ...int64) *feed.Decoder {
	t.Helper()
	shut := make(map[int64]bool, len(closed))
	for _, c := range closed {
		shut[c] = true
	}

	var buf bytes.Buffer
	enc := feed.NewEncoder(&buf)
	for ms := int64(0); ms <= endMs; ms += 100 {
		eye := openEye()
		if shut[ms] {
			eye = closedEye()
		}
		require.NoError(t, enc.Encode(feed.NewFrame(time.UnixMilli(baseMs+ms), eye, eye)))
	}
	return feed.NewDecoder(&buf, 0)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scanner.PeriodMs = 1500
	cfg.Scanner.SpeedPreset = ""
	cfg.Scanner.PauseMs = 3000
	cfg.Predict.Enabled = false
	cfg.Predict.LearnOnSessionEnd = false
	return cfg
}

func TestReplayCommitsSymbol(t *testing.T) {
	p, err := New(Options{Config: testConfig(), Source: "replay"})
	require.NoError(t, err)

	// Tick at 1.5s moves to row 1; the blink at 2s enters the row and pauses
	// until 5s; the blink at 5.5s commits its first symbol.
	res, err := p.Replay(context.Background(), script(t, 5600, 2000, 5500))
	require.NoError(t, err)

	require.Len(t, res.Commits, 1)
	assert.Equal(t, scanner.Commit{Area: scanner.AreaKeyboard, Symbol: "A", Row: 1, Col: 0}, res.Commits[0])
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "A", res.Transcript.Text)
	assert.Equal(t, uint64(2), res.Transcript.Blinks)
	assert.Equal(t, 57, res.Frames)
	assert.Equal(t, "replay", res.Transcript.Source)

	v := p.View()
	assert.Equal(t, EventStop, v.Event)
	assert.Equal(t, scanner.ModeRow, v.Mode)
	assert.True(t, v.Paused)
}

func TestReplayPauseSuppressesTicks(t *testing.T) {
	m := metrics.New(nil)
	p, err := New(Options{Config: testConfig(), Metrics: m})
	require.NoError(t, err)

	// Blink at 0.5s pauses until 3.5s; ticks at 1.5s and 3.0s are
	// suppressed, the one at 4.5s advances.
	_, err = p.Replay(context.Background(), script(t, 4600, 500))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), m.TicksSuppressed.Value())
	assert.Equal(t, uint64(1), m.TicksTotal.Value())
	assert.Equal(t, 1, p.View().Col)
	assert.False(t, p.View().Paused)
}

func TestReplayHeldClosureDoesNotBlink(t *testing.T) {
	cfg := testConfig()
	cfg.Detector.EmitOnRelease = true
	m := metrics.New(nil)
	p, err := New(Options{Config: cfg, Metrics: m})
	require.NoError(t, err)

	res, err := p.Replay(context.Background(), script(t, 1000, 200, 300, 400, 500))
	require.NoError(t, err)

	assert.Empty(t, res.Commits)
	assert.Equal(t, uint64(0), m.BlinksTotal.Value())
	assert.Equal(t, uint64(1), m.HeldTotal.Value())
	assert.False(t, p.View().Paused)
}

func TestReplaySkipsNoFaceAndInvalid(t *testing.T) {
	input := `{"ts": 1000, "face": true, "left": [[0,0]], "right": []}
{"ts": 1100, "face": false}
not json
`
	m := metrics.New(nil)
	p, err := New(Options{Config: testConfig(), Metrics: m})
	require.NoError(t, err)

	res, err := p.Replay(context.Background(), feed.NewDecoder(bytes.NewBufferString(input), 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Frames)
	assert.Equal(t, 2, res.Invalid)
	assert.Equal(t, uint64(1), m.FramesNoFace.Value())
}

func TestReplayEntersSuggestions(t *testing.T) {
	cfg := testConfig()
	cfg.Predict.Enabled = true
	cfg.Scanner.KeyboardRows = []string{"H E", "L O"}
	cfg.Scanner.AutoSuggestions = true

	pred := predict.NewEmpty()
	pred.Merge(&predict.Vocabulary{WordFrequencies: map[string]int{"hello": 10, "help": 5}})

	m := metrics.New(nil)
	p, err := New(Options{Config: cfg, Predictor: pred, Metrics: m})
	require.NoError(t, err)

	var events []Event
	p.AddObserver(ObserverFunc(func(ev Event) { events = append(events, ev) }))

	// 0.5s enters row 0; 4.0s commits H and moves to the suggestions;
	// 7.2s, after the resume and before the next tick, commits the first
	// suggestion.
	res, err := p.Replay(context.Background(), script(t, 7600, 500, 4000, 7200))
	require.NoError(t, err)

	require.Len(t, res.Commits, 2)
	assert.Equal(t, "H", res.Commits[0].Symbol)
	assert.Equal(t, scanner.AreaSuggestions, res.Commits[1].Area)
	assert.Equal(t, "ELLO", res.Commits[1].Symbol)
	assert.Equal(t, "HELLO", res.Transcript.Text)
	assert.Equal(t, uint64(1), m.SuggestionScans.Value())
	assert.Equal(t, uint64(1), m.SuggestionCommits.Value())

	var sawSuggestions bool
	for _, ev := range events {
		if ev.Kind == EventCommit && ev.View.Area == scanner.AreaSuggestions {
			sawSuggestions = true
			assert.Equal(t, []string{"hello", "help"}, ev.View.Labels)
			assert.Equal(t, []string{"ELLO", "LP"}, ev.View.Suggestions)
		}
	}
	assert.True(t, sawSuggestions)
}

func TestReplayStaysOnKeyboardBetweenWords(t *testing.T) {
	cfg := testConfig()
	cfg.Predict.Enabled = true
	cfg.Scanner.KeyboardRows = []string{scanner.SymbolSpace + "H", "LO"}
	cfg.Scanner.AutoSuggestions = true

	pred := predict.NewEmpty()
	pred.Merge(&predict.Vocabulary{WordFrequencies: map[string]int{"hello": 10, "help": 5}})

	m := metrics.New(nil)
	p, err := New(Options{Config: cfg, Predictor: pred, Metrics: m})
	require.NoError(t, err)

	var commits []Event
	p.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventCommit {
			commits = append(commits, ev)
		}
	}))

	// 0.5s enters row 0 and 4.0s commits the space. 7.2s enters row 0
	// again, the tick at 10.5s moves to H and 10.6s commits it.
	res, err := p.Replay(context.Background(), script(t, 10700, 500, 4000, 7200, 10600))
	require.NoError(t, err)

	require.Len(t, commits, 2)
	space := commits[0].View
	assert.Equal(t, " ", space.Text)
	assert.Equal(t, scanner.AreaKeyboard, space.Area)
	assert.Empty(t, space.Suggestions)
	assert.Empty(t, space.Labels)
	require.NotNil(t, space.Session)
	assert.Equal(t, uint64(1), space.Session.Inserts)
	assert.Equal(t, uint64(2), space.Session.Blinks)

	word := commits[1].View
	assert.Equal(t, " H", word.Text)
	assert.Equal(t, scanner.AreaSuggestions, word.Area)
	assert.Equal(t, []string{"hello", "help"}, word.Labels)

	assert.Equal(t, uint64(1), m.SuggestionScans.Value())
	assert.Equal(t, " H", res.Transcript.Text)
}

func TestReplayPersistsSession(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	defer st.Close()
	w := store.NewWriter(st, 64, nil, nil)

	transcripts, err := ime.NewTranscriptStorage(filepath.Join(t.TempDir(), "transcripts"))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Predict.Enabled = true
	cfg.Predict.LearnOnSessionEnd = true
	p, err := New(Options{Config: cfg, Writer: w, Transcripts: transcripts, Predictor: predict.NewEmpty()})
	require.NoError(t, err)

	res, err := p.Replay(context.Background(), script(t, 5600, 2000, 5500))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))

	sess, err := st.GetSession(res.Transcript.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Active())
	assert.Equal(t, "A", sess.Text)
	assert.Equal(t, 1, sess.Commits)
	assert.Equal(t, 2, sess.Blinks)

	commits, err := st.SessionCommits(sess.ID)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "keyboard", commits[0].Area)

	words, err := st.LearnedWords(0)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "a", words[0].Word)

	saved, err := transcripts.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", saved.Text)
}

func startRun(t *testing.T, p *Pipeline) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.Run(ctx))
	}()
	return func() {
		stop()
		wg.Wait()
	}
}

func TestRunCommands(t *testing.T) {
	p, err := New(Options{Config: testConfig()})
	require.NoError(t, err)
	stop := startRun(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.SetSpeed(ctx, "fast"))
	assert.Equal(t, scanner.PresetFast, p.View().Period)
	assert.ErrorIs(t, p.SetSpeed(ctx, "warp"), scanner.ErrUnknownPreset)
	assert.ErrorIs(t, p.SetPeriod(ctx, 0), scanner.ErrInvalidPeriod)

	text, err := p.Text(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)
	require.NoError(t, p.ClearText(ctx))

	assert.Equal(t, ErrRunning, p.Run(ctx))

	stop()
	assert.ErrorIs(t, p.SetPeriod(ctx, time.Second), ErrStopped)
	assert.Equal(t, EventStop, p.View().Event)
}

func TestRunTicksOnWallClock(t *testing.T) {
	cfg := testConfig()
	cfg.Scanner.PeriodMs = 20
	p, err := New(Options{Config: cfg})
	require.NoError(t, err)

	ticks := make(chan struct{}, 16)
	p.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventTick {
			select {
			case ticks <- struct{}{}:
			default:
			}
		}
	}))

	stop := startRun(t, p)
	defer stop()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("no tick")
		}
	}
}

func TestRunProcessesSubmittedFrames(t *testing.T) {
	cfg := testConfig()
	m := metrics.New(nil)
	p, err := New(Options{Config: cfg, Metrics: m})
	require.NoError(t, err)

	blinked := make(chan struct{}, 1)
	p.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventBlink {
			blinked <- struct{}{}
		}
	}))

	stop := startRun(t, p)
	defer stop()

	ctx := context.Background()
	require.True(t, p.SubmitFrame(ctx, feed.NewFrame(time.Time{}, openEye(), openEye())))
	require.True(t, p.SubmitFrame(ctx, feed.NewFrame(time.Time{}, closedEye(), closedEye())))

	select {
	case <-blinked:
	case <-time.After(2 * time.Second):
		t.Fatal("blink not processed")
	}
	v := p.View()
	assert.True(t, v.Paused)
	assert.Equal(t, scanner.ModeColumn, v.Mode)
	assert.Equal(t, uint64(1), v.Blinks)
}

func TestApplyConfig(t *testing.T) {
	p, err := New(Options{Config: testConfig()})
	require.NoError(t, err)
	stop := startRun(t, p)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	next := testConfig()
	next.Scanner.PeriodMs = 2500
	next.Scanner.KeyboardRows = []string{"AB", "CD"}
	next.Detector.EARThreshold = 0.3
	require.NoError(t, p.ApplyConfig(ctx, next))

	v := p.View()
	assert.Equal(t, 2500*time.Millisecond, v.Period)
	assert.Equal(t, []string{"A", "B"}, v.RowSymbols)

	bad := testConfig()
	bad.Detector.ConsecFrames = 0
	assert.Error(t, p.ApplyConfig(ctx, bad))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Scanner.KeyboardRows = []string{""}
	_, err = New(Options{Config: cfg})
	assert.ErrorIs(t, err, scanner.ErrEmptyRow)
}
