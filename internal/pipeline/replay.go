package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"blinkscan/internal/feed"
	"blinkscan/internal/ime"
	"blinkscan/internal/scanner"
)

// ReplayFrameStep is the clock advance for frames without a timestamp.
const ReplayFrameStep = 33 * time.Millisecond

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Frames     int
	Invalid    int
	Commits    []scanner.Commit
	Transcript *ime.Transcript
}

// Replay feeds recorded frames through the pipeline on a simulated clock
// taken from the frame timestamps. Scan deadlines between two frames fire in
// order at their exact times. Invalid lines are counted and skipped.
// Replay owns the pipeline like Run does.
func (p *Pipeline) Replay(ctx context.Context, dec *feed.Decoder) (*ReplayResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer p.stop()

	var clock time.Time
	p.now = func() time.Time { return clock }
	p.engine.SetClock(p.now)

	res := &ReplayResult{}
	p.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Commit != nil {
			res.Commits = append(res.Commits, *ev.Commit)
		}
	}))

	started := false
	end := func() {
		if started {
			res.Transcript = p.finish()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			end()
			return res, err
		}

		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, feed.ErrInvalidFrame) {
				res.Invalid++
				p.logger.Warn("skipping frame", "error", err)
				continue
			}
			end()
			return res, err
		}

		ts := f.Time()
		switch {
		case ts.IsZero() && started:
			ts = clock.Add(ReplayFrameStep)
		case ts.IsZero():
			ts = time.Unix(0, 0)
		case started && ts.Before(clock):
			ts = clock
		}

		if !started {
			clock = ts
			p.begin(clock)
			started = true
		}

		for {
			d := p.scanner.NextDeadline()
			if d.IsZero() || d.After(ts) {
				break
			}
			clock = d
			p.guard("due", func() { p.fireDue(d) })
		}
		clock = ts
		p.guard("frame", func() { p.handleFrame(ts, f) })
		res.Frames++
	}

	end()
	return res, nil
}
