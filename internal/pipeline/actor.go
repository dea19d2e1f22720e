package pipeline

import (
	"context"
	"time"

	"blinkscan/internal/feed"
	"blinkscan/internal/ime"
	"blinkscan/internal/predict"
	"blinkscan/internal/scanner"
	"blinkscan/internal/signal"
	"blinkscan/internal/store"
)

// Run owns the pipeline until ctx is cancelled. It starts a typing session,
// processes frames, commands and scan deadlines, and ends the session on
// exit. A pipeline runs at most once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.stop()

	p.engine.SetClock(p.now)
	p.begin(p.now())

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := p.now()
		p.guard("due", func() { p.fireDue(now) })
		timer.Reset(p.wait(now))

		select {
		case <-ctx.Done():
			p.finish()
			return nil
		case f := <-p.frames:
			p.guard("frame", func() { p.handleFrame(p.now(), f) })
		case c := <-p.cmds:
			p.guard("command", c.fn)
			close(c.done)
		case <-timer.C:
		}
	}
}

func (p *Pipeline) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Done is closed when the loop has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) wait(now time.Time) time.Duration {
	d := p.scanner.NextDeadline().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (p *Pipeline) guard(stage string, fn func()) {
	if p.crash == nil {
		fn()
		return
	}
	p.crash.Recover(map[string]any{"stage": stage, "session_id": p.sessionID}, fn)
}

func (p *Pipeline) begin(now time.Time) {
	info, err := p.engine.StartSession(ime.SessionOptions{Source: p.source})
	if err != nil {
		p.logger.Warn("session not started", "error", err)
	} else {
		p.sessionID = info.ID
		p.metrics.SessionStarted()
		if p.crash != nil {
			p.crash.SetSessionID(info.ID)
		}
		if p.writer != nil {
			p.writer.StartSession(store.Session{
				ID:        info.ID,
				StartedAt: info.StartTime,
				Source:    info.Source,
			})
		}
		p.logger.Info("session started", "session_id", info.ID, "source", info.Source)
	}

	p.scanner.Start(now)
	p.publish(EventStart, nil)
}

func (p *Pipeline) finish() *ime.Transcript {
	if !p.engine.HasActiveSession() {
		return nil
	}
	t, err := p.engine.EndSession()
	if err != nil {
		p.logger.Error("session not ended", "error", err)
		return nil
	}
	p.metrics.SessionEnded()

	if p.writer != nil {
		p.writer.EndSession(t.SessionID, store.SessionSummary{
			EndedAt:        t.EndTime,
			Blinks:         int(t.Blinks),
			Inserts:        int(t.Inserts),
			Deletes:        int(t.Deletes),
			Text:           t.Text,
			CharsPerMinute: t.CharsPerMinute,
		})
	}
	if p.transcripts != nil {
		if err := p.transcripts.Save(t); err != nil {
			p.logger.Error("transcript not saved", "session_id", t.SessionID, "error", err)
		}
	}
	if p.cfg.Predict.LearnOnSessionEnd {
		p.learn(t.Text)
	}

	p.logger.Info("session ended",
		"session_id", t.SessionID,
		"blinks", t.Blinks,
		"inserts", t.Inserts,
		"deletes", t.Deletes,
		"chars_per_minute", t.CharsPerMinute,
	)
	p.publish(EventStop, nil)
	return t
}

// fireDue runs the scanner's resume and tick if they are due at now.
func (p *Pipeline) fireDue(now time.Time) {
	r := p.scanner.Due(now)
	if r.Ticked {
		p.metrics.RecordTick(r.Advanced)
	}
	if r.Resumed {
		p.metrics.Paused.Set(0)
	}
	switch {
	case r.Advanced:
		p.publish(EventTick, nil)
	case r.Resumed:
		p.publish(EventResume, nil)
	}
	p.metrics.UpdateUptime()
}

func (p *Pipeline) handleFrame(now time.Time, f feed.Frame) {
	start := time.Now()
	defer p.metrics.FrameLatency.Since(start)

	if !f.Face {
		p.metrics.RecordFrame(false, false, 0)
		return
	}

	left, right := f.Landmarks()
	outcome, ear := p.detector.ProcessLandmarks(left, right)
	measured := outcome != signal.FrameDegenerate
	p.metrics.RecordFrame(true, measured, ear)
	if measured {
		p.lastEAR = ear
	}

	switch outcome {
	case signal.FrameDegenerate:
		p.logger.Debug("degenerate eye geometry, frame treated as open")
	case signal.FrameHeld:
		p.metrics.HeldTotal.Inc()
		p.logger.Debug("eyes held shut, no blink")
	case signal.FrameBlink:
		p.metrics.BlinksTotal.Inc()
		p.onBlink(now)
	}
}

func (p *Pipeline) onBlink(now time.Time) {
	p.fireDue(now)
	p.engine.RecordBlink()

	c, ok := p.scanner.OnBlink(now)
	p.metrics.Paused.SetBool(p.scanner.Paused())
	if !ok {
		p.publish(EventBlink, nil)
		return
	}

	p.metrics.RecordCommit(c.Area == scanner.AreaSuggestions)
	if p.writer != nil {
		p.writer.RecordCommit(store.Commit{
			SessionID: p.sessionID,
			Timestamp: now,
			Area:      c.Area.String(),
			Symbol:    c.Symbol,
			Row:       c.Row,
			Col:       c.Col,
			Index:     c.Index,
		})
	}
	p.logger.Debug("committed", "area", c.Area.String(), "row", c.Row, "col", c.Col, "index", c.Index)

	p.refreshSuggestions(c.Area == scanner.AreaKeyboard)
	p.publish(EventCommit, &c)
}

// refreshSuggestions recomputes suggestions for the word being typed. After
// a keyboard commit with auto suggestions on, a non-empty list moves scanning
// to it. Between words there is nothing to complete and scanning stays on
// the keyboard.
func (p *Pipeline) refreshSuggestions(enter bool) {
	if p.predictor == nil || !p.cfg.Predict.Enabled || p.engine.LastWord() == "" {
		p.setSuggestions(nil)
		p.scanner.ClearSuggestions()
		return
	}

	limit := p.cfg.Predict.MaxSuggestions
	if limit <= 0 {
		limit = predict.DefaultMaxSuggestions
	}
	p.setSuggestions(p.predictor.Suggest(p.engine.Text(), limit))

	if len(p.inserts) == 0 {
		p.scanner.ClearSuggestions()
		return
	}
	if enter && p.cfg.Scanner.AutoSuggestions {
		if err := p.scanner.EnterSuggestionMode(p.inserts); err == nil {
			p.metrics.SuggestionScans.Inc()
		}
	}
}

func (p *Pipeline) setSuggestions(s []predict.Suggestion) {
	p.labels = p.labels[:0]
	p.inserts = p.inserts[:0]
	for _, x := range s {
		p.labels = append(p.labels, x.Label)
		p.inserts = append(p.inserts, x.Insert)
	}
}

func (p *Pipeline) learn(text string) []string {
	if p.predictor == nil || text == "" {
		return nil
	}
	words := p.predictor.Learn(text)
	if len(words) == 0 {
		return nil
	}
	if p.writer != nil {
		freq := make(map[string]int, len(words))
		for _, w := range words {
			freq[w] = p.predictor.Frequency(w)
		}
		p.writer.UpsertWords(freq, p.now())
	}
	p.logger.Info("vocabulary updated", "words", len(words))
	return words
}

func (p *Pipeline) buildView(kind EventKind) View {
	v := View{
		Seq:       p.seq,
		Event:     kind,
		Snapshot:  p.scanner.Snapshot(),
		Text:      p.engine.Text(),
		SessionID: p.sessionID,
		Session:   p.engine.GetSessionInfo(),
		Blinks:    p.detector.State().TotalBlinks,
		EAR:       p.lastEAR,
	}
	v.Suggestions = append([]string(nil), p.inserts...)
	v.Labels = append([]string(nil), p.labels...)
	return v
}

func (p *Pipeline) storeView() {
	v := p.buildView(EventStart)
	p.view.Store(&v)
}

func (p *Pipeline) publish(kind EventKind, c *scanner.Commit) {
	p.seq++
	v := p.buildView(kind)
	p.view.Store(&v)

	p.obsMu.RLock()
	observers := p.observers
	p.obsMu.RUnlock()
	for _, o := range observers {
		o.Observe(Event{Kind: kind, Commit: c, View: v})
	}
}
