// framegen generates synthetic landmark frames that type a message on the
// scanning keyboard, for exercising the detector and scanner without a camera.
//
// Usage:
//
//	go run ./tools/framegen -text "HELLO" -output hello.jsonl
//	go run ./tools/framegen -text "HI" -profile sloppy -seed 7 | blinkscan replay -
//
// The generator drives its own scanner with the default layout and timing,
// closing the eyes whenever the wanted row or key is highlighted. No-face
// frames are only dropped between blinks. Replay the output with scanner.auto_suggestions disabled;
// otherwise suggestion scanning takes over after the first commit.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"blinkscan/internal/feed"
	"blinkscan/internal/scanner"
	"blinkscan/internal/signal"
)

// Profile shapes the synthetic face.
type Profile struct {
	Name        string
	Description string
	FrameStep   time.Duration
	Jitter      float64 // landmark noise, in eye-width units
	BlinkFrames int     // closed frames per deliberate blink
	DropRate    float64 // probability of a no-face frame
}

var profiles = map[string]Profile{
	"clean": {
		Name:        "clean",
		Description: "Noise-free 30 fps stream with single-frame blinks",
		FrameStep:   33 * time.Millisecond,
		BlinkFrames: 1,
	},
	"natural": {
		Name:        "natural",
		Description: "Light landmark noise and two-frame blinks",
		FrameStep:   33 * time.Millisecond,
		Jitter:      0.02,
		BlinkFrames: 2,
		DropRate:    0.01,
	},
	"sloppy": {
		Name:        "sloppy",
		Description: "Noisy tracker at 25 fps with dropped frames and three-frame blinks",
		FrameStep:   40 * time.Millisecond,
		Jitter:      0.05,
		BlinkFrames: 3,
		DropRate:    0.05,
	},
}

func main() {
	var (
		text    = flag.String("text", "HELLO", "message to type (A-Z and space)")
		output  = flag.String("output", "", "output file (default stdout)")
		profile = flag.String("profile", "clean", "stream profile")
		period  = flag.Duration("period", scanner.PresetMedium, "scan period")
		pause   = flag.Duration("pause", 3*time.Second, "pause after each blink")
		seed    = flag.Int64("seed", 1, "random seed")
		list    = flag.Bool("list", false, "list profiles and exit")
	)
	flag.Parse()

	if *list {
		for _, p := range profiles {
			fmt.Printf("%-8s %s\n", p.Name, p.Description)
		}
		return
	}

	prof, ok := profiles[*profile]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown profile %q\n", *profile)
		os.Exit(1)
	}

	targets, err := plan(scanner.DefaultLayout(), *text)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	g := &generator{
		profile: prof,
		rng:     rand.New(rand.NewSource(*seed)),
		enc:     feed.NewEncoder(w),
	}
	n, err := g.run(targets, scanner.Options{Period: *period, PauseDuration: *pause})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "wrote %d frames for %q\n", n, *text)
}

type target struct{ row, col int }

// plan maps each character of text to its key.
func plan(layout scanner.Layout, text string) ([]target, error) {
	var out []target
	for _, r := range strings.ToUpper(text) {
		sym := string(r)
		if r == ' ' {
			sym = scanner.SymbolSpace
		}
		t, ok := find(layout, sym)
		if !ok {
			return nil, fmt.Errorf("no key for %q", r)
		}
		out = append(out, t)
	}
	return out, nil
}

func find(layout scanner.Layout, sym string) (target, bool) {
	for r, row := range layout {
		for c, s := range row {
			if s == sym {
				return target{r, c}, true
			}
		}
	}
	return target{}, false
}

type generator struct {
	profile Profile
	rng     *rand.Rand
	enc     *feed.Encoder
	frames  int
}

// run mirrors the replay loop: deadlines up to a frame's timestamp fire
// before the frame is handled.
func (g *generator) run(targets []target, opts scanner.Options) (int, error) {
	sc, err := scanner.New(scanner.DefaultLayout(), nil, opts)
	if err != nil {
		return 0, err
	}

	now := time.UnixMilli(1_700_000_000_000)
	sc.Start(now)

	closed := 0 // closed frames still to emit
	for len(targets) > 0 {
		for d := sc.NextDeadline(); !d.After(now); d = sc.NextDeadline() {
			sc.Due(d)
		}

		switch {
		case closed > 0:
			closed--
			if err := g.emit(now, true); err != nil {
				return g.frames, err
			}
		case !sc.Paused() && wanted(sc.Position(), targets[0]):
			if _, ok := sc.OnBlink(now); ok {
				targets = targets[1:]
			}
			closed = g.profile.BlinkFrames - 1
			if err := g.emit(now, true); err != nil {
				return g.frames, err
			}
		case g.rng.Float64() < g.profile.DropRate:
			g.frames++
			if err := g.enc.Encode(feed.Frame{TS: now.UnixMilli()}); err != nil {
				return g.frames, err
			}
		default:
			if err := g.emit(now, false); err != nil {
				return g.frames, err
			}
		}
		now = now.Add(g.profile.FrameStep)
	}

	// Trailing open frames so the last blink episode ends.
	for i := 0; i < 10; i++ {
		if err := g.emit(now, false); err != nil {
			return g.frames, err
		}
		now = now.Add(g.profile.FrameStep)
	}
	return g.frames, nil
}

func wanted(pos scanner.Position, t target) bool {
	if pos.Area != scanner.AreaKeyboard {
		return false
	}
	if pos.Mode == scanner.ModeRow {
		return pos.Row == t.row
	}
	return pos.Row == t.row && pos.Col == t.col
}

func (g *generator) emit(ts time.Time, closed bool) error {
	g.frames++
	left, right := g.eye(closed, 0), g.eye(closed, 5)
	return g.enc.Encode(feed.NewFrame(ts, left, right))
}

// eye returns six landmarks ordered corner, top, top, corner, bottom,
// bottom. An open eye has EAR ~0.67, a closed one ~0.
func (g *generator) eye(closed bool, offset float64) signal.EyeLandmarks {
	h := 1.0
	if closed {
		h = 0
	}
	e := signal.EyeLandmarks{
		{X: offset, Y: 0},
		{X: offset + 1, Y: -h},
		{X: offset + 2, Y: -h},
		{X: offset + 3, Y: 0},
		{X: offset + 2, Y: h},
		{X: offset + 1, Y: h},
	}
	if g.profile.Jitter > 0 {
		for i := range e {
			e[i].X += g.rng.NormFloat64() * g.profile.Jitter
			e[i].Y += g.rng.NormFloat64() * g.profile.Jitter
		}
	}
	return e
}
