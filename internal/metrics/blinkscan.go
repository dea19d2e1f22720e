package metrics

import (
	"time"
)

// Blinkscan holds the daemon's metrics.
type Blinkscan struct {
	registry *Registry
	start    time.Time

	// Input
	FramesTotal      *Counter
	FramesNoFace     *Counter
	FramesDegenerate *Counter
	FramesDropped    *Counter
	EyeAspectRatio   *Histogram
	BlinksTotal      *Counter
	HeldTotal        *Counter
	FrameLatency     *Histogram

	// Scanner
	TicksTotal        *Counter
	TicksSuppressed   *Counter
	KeyboardCommits   *Counter
	SuggestionCommits *Counter
	SuggestionScans   *Counter
	Paused            *Gauge

	// Sessions and clients
	SessionsTotal *Counter
	ActiveSession *Gauge
	FeedClients   *Gauge
	ViewClients   *Gauge
	UptimeSeconds *Gauge

	// Storage
	StoreWrites        *Counter
	StoreDropped       *Counter
	StoreErrors        *Counter
	StoreWriteDuration *Histogram
}

// New registers all blinkscan metrics in registry. A nil registry gets a
// fresh one under the "blinkscan" namespace.
func New(registry *Registry) *Blinkscan {
	if registry == nil {
		registry = NewRegistry("blinkscan")
	}

	return &Blinkscan{
		registry: registry,
		start:    time.Now(),

		FramesTotal: registry.Counter("frames_total",
			"Landmark frames received", nil),
		FramesNoFace: registry.Counter("frames_no_face_total",
			"Frames without a detected face", nil),
		FramesDegenerate: registry.Counter("frames_degenerate_total",
			"Frames whose eye geometry could not be measured", nil),
		FramesDropped: registry.Counter("frames_dropped_total",
			"Frames dropped because the pipeline queue was full", nil),
		EyeAspectRatio: registry.Histogram("eye_aspect_ratio",
			"Mean eye aspect ratio per measured frame", nil, RatioBuckets),
		BlinksTotal: registry.Counter("blinks_total",
			"Blink events emitted by the detector", nil),
		HeldTotal: registry.Counter("held_episodes_total",
			"Closed-eye runs too long to count as a blink", nil),
		FrameLatency: registry.Histogram("frame_processing_seconds",
			"Time spent handling one frame in the pipeline", nil, DurationBuckets),

		TicksTotal: registry.Counter("ticks_total",
			"Scan ticks that advanced the highlight", nil),
		TicksSuppressed: registry.Counter("ticks_suppressed_total",
			"Scan ticks ignored while paused", nil),
		KeyboardCommits: registry.Counter("commits_total",
			"Symbols committed", Labels{"area": "keyboard"}),
		SuggestionCommits: registry.Counter("commits_total",
			"Symbols committed", Labels{"area": "suggestions"}),
		SuggestionScans: registry.Counter("suggestion_scans_total",
			"Times scanning moved to the suggestion list", nil),
		Paused: registry.Gauge("paused",
			"1 while scanning is paused after a blink", nil),

		SessionsTotal: registry.Counter("sessions_total",
			"Typing sessions started", nil),
		ActiveSession: registry.Gauge("active_session",
			"1 while a typing session is open", nil),
		FeedClients: registry.Gauge("feed_clients",
			"Connected landmark producers", nil),
		ViewClients: registry.Gauge("view_clients",
			"Connected view subscribers", nil),
		UptimeSeconds: registry.Gauge("uptime_seconds",
			"Seconds since the daemon started", nil),

		StoreWrites: registry.Counter("store_writes_total",
			"Records written to the database", nil),
		StoreDropped: registry.Counter("store_dropped_total",
			"Records dropped because the write queue was full", nil),
		StoreErrors: registry.Counter("store_errors_total",
			"Failed database writes", nil),
		StoreWriteDuration: registry.Histogram("store_write_duration_seconds",
			"Duration of database writes", nil, DurationBuckets),
	}
}

// Registry returns the underlying registry.
func (m *Blinkscan) Registry() *Registry { return m.registry }

// RecordFrame counts one landmark frame. ear is ignored unless measured.
func (m *Blinkscan) RecordFrame(face, measured bool, ear float64) {
	m.FramesTotal.Inc()
	switch {
	case !face:
		m.FramesNoFace.Inc()
	case !measured:
		m.FramesDegenerate.Inc()
	default:
		m.EyeAspectRatio.Observe(ear)
	}
}

// RecordTick counts a scan tick.
func (m *Blinkscan) RecordTick(advanced bool) {
	if advanced {
		m.TicksTotal.Inc()
	} else {
		m.TicksSuppressed.Inc()
	}
}

// RecordCommit counts a committed symbol by area.
func (m *Blinkscan) RecordCommit(suggestion bool) {
	if suggestion {
		m.SuggestionCommits.Inc()
	} else {
		m.KeyboardCommits.Inc()
	}
}

// SessionStarted records a session start.
func (m *Blinkscan) SessionStarted() {
	m.SessionsTotal.Inc()
	m.ActiveSession.Set(1)
}

// SessionEnded records a session end.
func (m *Blinkscan) SessionEnded() {
	m.ActiveSession.Set(0)
}

// RecordStoreWrite records one database write.
func (m *Blinkscan) RecordStoreWrite(d time.Duration, err error) {
	m.StoreWriteDuration.ObserveDuration(d)
	if err != nil {
		m.StoreErrors.Inc()
		return
	}
	m.StoreWrites.Inc()
}

// UpdateUptime updates the uptime metric.
func (m *Blinkscan) UpdateUptime() {
	m.UptimeSeconds.Set(time.Since(m.start).Seconds())
}
