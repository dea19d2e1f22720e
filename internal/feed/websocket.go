package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"blinkscan/internal/metrics"
)

// Defaults for connection handling.
const (
	DefaultMaxMessageBytes = 64 * 1024
	DefaultReadTimeout     = 60 * time.Second
	DefaultPingInterval    = 54 * time.Second

	writeWait = 10 * time.Second
)

// FrameSink accepts decoded frames. Submit must not block for long; it
// reports false when the frame was not accepted.
type FrameSink interface {
	SubmitFrame(ctx context.Context, f Frame) bool
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, f Frame) bool

// SubmitFrame calls fn.
func (fn FrameSinkFunc) SubmitFrame(ctx context.Context, f Frame) bool { return fn(ctx, f) }

// Options configures WebSocket connections.
type Options struct {
	MaxMessageBytes int64
	ReadTimeout     time.Duration
	PingInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local clients only; the API listens on loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades connections on the landmark endpoint and forwards each
// valid frame to the sink. Invalid frames are logged and skipped.
type Handler struct {
	sink    FrameSink
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Blinkscan
}

// NewHandler creates a landmark handler. m may be nil.
func NewHandler(sink FrameSink, opts Options, logger *slog.Logger, m *metrics.Blinkscan) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sink: sink, opts: opts.withDefaults(), logger: logger, metrics: m}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	logger := h.logger.With("client_id", clientID)
	logger.Info("landmark client connected", "remote", r.RemoteAddr)

	if h.metrics != nil {
		h.metrics.FeedClients.Inc()
		defer h.metrics.FeedClients.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.pingLoop(ctx, conn)

	n := h.readPump(ctx, conn, logger)
	conn.Close()
	logger.Info("landmark client disconnected", "frames", n)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) uint64 {
	conn.SetReadLimit(h.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	var accepted uint64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("landmark read failed", "error", err)
			}
			return accepted
		}
		conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		if err := f.Validate(); err != nil {
			logger.Debug("dropping invalid frame", "error", err)
			continue
		}
		if !h.sink.SubmitFrame(ctx, f) {
			logger.Debug("frame not accepted")
			continue
		}
		accepted++
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				return
			}
		}
	}
}
