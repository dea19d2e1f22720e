// Package pipeline wires the blink detector, the scanner, the message buffer
// and word prediction into a single actor.
//
// Everything that mutates typing state runs on one goroutine. Landmark frames,
// control commands and the scan timer all arrive as messages:
//
//	frames ──┐
//	commands ┼──> Run loop ──> detector ──> scanner ──> engine
//	timer ───┘         │
//	                   └──> observers (view hub, D-Bus), store writer
//
// The scanner keeps its deadlines as data, so the loop needs only one timer,
// re-armed from NextDeadline after every message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"blinkscan/internal/config"
	"blinkscan/internal/feed"
	"blinkscan/internal/ime"
	"blinkscan/internal/logging"
	"blinkscan/internal/metrics"
	"blinkscan/internal/predict"
	"blinkscan/internal/scanner"
	"blinkscan/internal/signal"
	"blinkscan/internal/store"
)

var (
	// ErrStopped is returned by commands sent after Run has exited.
	ErrStopped = errors.New("pipeline: stopped")

	// ErrRunning is returned when Run or Replay is called while another
	// loop owns the pipeline.
	ErrRunning = errors.New("pipeline: already running")
)

// DefaultFrameQueue is used when the configured queue length is not positive.
const DefaultFrameQueue = 256

// Options configures a Pipeline. Only Config is required.
type Options struct {
	Config *config.Config

	Logger  *slog.Logger
	Metrics *metrics.Blinkscan

	// Predictor supplies suggestions. Nil disables them.
	Predictor *predict.Predictor

	// Writer persists sessions and commits. Nil disables persistence.
	Writer *store.Writer

	// Transcripts receives a JSON transcript per finished session.
	Transcripts *ime.TranscriptStorage

	// Crash recovers panics raised while handling a message.
	Crash *logging.CrashHandler

	// Source labels the typing session ("websocket", "replay", ...).
	Source string

	// Now is the wall clock used by Run. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is the single-actor typing pipeline.
type Pipeline struct {
	logger      *slog.Logger
	metrics     *metrics.Blinkscan
	predictor   *predict.Predictor
	writer      *store.Writer
	transcripts *ime.TranscriptStorage
	crash       *logging.CrashHandler
	source      string
	now         func() time.Time

	frames chan feed.Frame
	cmds   chan command
	done   chan struct{}

	running   atomic.Bool
	stopOnce  sync.Once
	lastFrame atomic.Int64

	view atomic.Pointer[View]

	obsMu     sync.RWMutex
	observers []Observer

	// Owned by the loop goroutine.
	cfg       *config.Config
	detector  *signal.Detector
	scanner   *scanner.Scanner
	engine    *ime.Engine
	sessionID string
	labels    []string
	inserts   []string
	lastEAR   float64
	seq       uint64
}

type command struct {
	fn   func()
	done chan struct{}
}

// New builds a pipeline from configuration.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	cfg := opts.Config.Clone()

	detector, err := signal.NewDetector(thresholdsFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	layout, err := layoutFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("keyboard layout: %w", err)
	}

	engine := ime.NewEngine()
	sc, err := scanner.New(layout, engine, scanner.Options{
		Period:             cfg.ScanPeriod(),
		PauseDuration:      cfg.PauseDuration(),
		ExtendPauseOnBlink: cfg.Scanner.ExtendPauseOnBlink,
	})
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	queue := cfg.Feed.FrameQueue
	if queue <= 0 {
		queue = DefaultFrameQueue
	}

	p := &Pipeline{
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		predictor:   opts.Predictor,
		writer:      opts.Writer,
		transcripts: opts.Transcripts,
		crash:       opts.Crash,
		source:      opts.Source,
		now:         opts.Now,
		frames:      make(chan feed.Frame, queue),
		cmds:        make(chan command),
		done:        make(chan struct{}),
		cfg:         cfg,
		detector:    detector,
		scanner:     sc,
		engine:      engine,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = metrics.New(nil)
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.source == "" {
		p.source = "websocket"
	}
	p.storeView()
	return p, nil
}

func thresholdsFrom(cfg *config.Config) signal.Thresholds {
	return signal.Thresholds{
		EAR:            cfg.Detector.EARThreshold,
		ConsecFrames:   cfg.Detector.ConsecFrames,
		MaxBlinkFrames: cfg.Detector.MaxBlinkFrames,
		EmitOnRelease:  cfg.Detector.EmitOnRelease,
	}
}

func layoutFrom(cfg *config.Config) (scanner.Layout, error) {
	if len(cfg.Scanner.KeyboardRows) == 0 {
		return scanner.DefaultLayout(), nil
	}
	return scanner.ParseLayout(cfg.Scanner.KeyboardRows)
}

// AddObserver registers an observer. Observers are called on the loop
// goroutine and must not block.
func (p *Pipeline) AddObserver(o Observer) {
	p.obsMu.Lock()
	p.observers = append(p.observers, o)
	p.obsMu.Unlock()
}

// View returns the latest published view. It is safe to call from any
// goroutine.
func (p *Pipeline) View() View {
	return *p.view.Load()
}

// SubmitFrame queues a frame for the loop. It never blocks: a full queue
// drops the frame and reports false. It implements feed.FrameSink.
func (p *Pipeline) SubmitFrame(ctx context.Context, f feed.Frame) bool {
	p.lastFrame.Store(time.Now().UnixNano())
	select {
	case p.frames <- f:
		return true
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	default:
		p.metrics.FramesDropped.Inc()
		return false
	}
}

// LastFrameAt returns when SubmitFrame was last called, or the zero time.
func (p *Pipeline) LastFrameAt() time.Time {
	ns := p.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// do runs fn on the loop goroutine and waits for it to finish.
func (p *Pipeline) do(ctx context.Context, fn func()) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case p.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrStopped
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case <-c.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// SetPeriod changes the scan period. The tick already scheduled keeps its
// deadline.
func (p *Pipeline) SetPeriod(ctx context.Context, d time.Duration) error {
	var err error
	if derr := p.do(ctx, func() {
		if err = p.scanner.SetPeriod(d); err == nil {
			p.cfg.Scanner.PeriodMs = int(d / time.Millisecond)
			p.cfg.Scanner.SpeedPreset = ""
			p.logger.Info("scan period changed", "period", d)
			p.publish(EventConfig, nil)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// SetSpeed applies a named speed preset.
func (p *Pipeline) SetSpeed(ctx context.Context, preset string) error {
	d, err := scanner.PresetPeriod(preset)
	if err != nil {
		return err
	}
	return p.SetPeriod(ctx, d)
}

// Text returns the message buffer.
func (p *Pipeline) Text(ctx context.Context) (string, error) {
	var text string
	err := p.do(ctx, func() { text = p.engine.Text() })
	return text, err
}

// ClearText empties the message buffer and drops pending suggestions.
func (p *Pipeline) ClearText(ctx context.Context) error {
	return p.do(ctx, func() {
		p.engine.Clear()
		p.setSuggestions(nil)
		p.scanner.ClearSuggestions()
		p.publish(EventText, nil)
	})
}

// Learn feeds the current buffer to the predictor and persists the updated
// word frequencies. It returns the words learned.
func (p *Pipeline) Learn(ctx context.Context) ([]string, error) {
	var words []string
	err := p.do(ctx, func() { words = p.learn(p.engine.Text()) })
	return words, err
}

// ApplyConfig applies a reloaded configuration. Detector thresholds, scan
// timing, the keyboard layout and prediction settings take effect
// immediately.
func (p *Pipeline) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	var err error
	if derr := p.do(ctx, func() { err = p.applyConfig(cfg) }); derr != nil {
		return derr
	}
	return err
}

func (p *Pipeline) applyConfig(cfg *config.Config) error {
	if err := p.detector.SetThresholds(thresholdsFrom(cfg)); err != nil {
		return err
	}
	layout, err := layoutFrom(cfg)
	if err != nil {
		return err
	}
	if err := p.scanner.SetPeriod(cfg.ScanPeriod()); err != nil {
		return err
	}
	if err := p.scanner.SetPauseDuration(cfg.PauseDuration()); err != nil {
		return err
	}
	p.scanner.SetExtendPauseOnBlink(cfg.Scanner.ExtendPauseOnBlink)
	if !equalRows(p.cfg.Scanner.KeyboardRows, cfg.Scanner.KeyboardRows) {
		if err := p.scanner.SetLayout(layout); err != nil {
			return err
		}
	}
	if !cfg.Predict.Enabled {
		p.setSuggestions(nil)
		p.scanner.ClearSuggestions()
	}
	p.cfg = cfg.Clone()
	p.logger.Info("configuration applied",
		"period", cfg.ScanPeriod(),
		"ear_threshold", cfg.Detector.EARThreshold,
	)
	p.publish(EventConfig, nil)
	return nil
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
