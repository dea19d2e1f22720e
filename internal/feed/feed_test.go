package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinkscan/internal/metrics"
	"blinkscan/internal/signal"
)

func openEye() signal.EyeLandmarks {
	return signal.EyeLandmarks{{X: 0, Y: 0}, {X: 1, Y: -1}, {X: 2, Y: -1}, {X: 3, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 1}}
}

func TestFrameValidate(t *testing.T) {
	valid := NewFrame(time.UnixMilli(1000), openEye(), openEye())
	require.NoError(t, valid.Validate())

	noFace := Frame{TS: 5}
	assert.NoError(t, noFace.Validate())

	short := valid
	short.Left = short.Left[:5]
	assert.ErrorIs(t, short.Validate(), ErrInvalidFrame)

	negative := Frame{TS: -1}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidFrame)
}

func TestFrameLandmarksRoundTrip(t *testing.T) {
	f := NewFrame(time.UnixMilli(42), openEye(), openEye())
	left, right := f.Landmarks()
	assert.Equal(t, openEye(), left)
	assert.Equal(t, openEye(), right)
	assert.Equal(t, time.UnixMilli(42), f.Time())
	assert.True(t, (&Frame{}).Time().IsZero())
}

func TestDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(NewFrame(time.UnixMilli(1), openEye(), openEye())))
	buf.WriteString("\n")
	buf.WriteString(`{"ts": 2, "face": true, "left": [[0,0]]}` + "\n")
	buf.WriteString("not json\n")
	require.NoError(t, enc.Encode(Frame{TS: 3}))

	dec := NewDecoder(&buf, 0)

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.TS)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.Equal(t, 3, dec.Line())

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrInvalidFrame)

	f, err = dec.Next()
	require.NoError(t, err)
	assert.False(t, f.Face)

	_, err = dec.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

type collectSink struct {
	mu     sync.Mutex
	frames []Frame
	got    chan struct{}
}

func (s *collectSink) SubmitFrame(_ context.Context, f Frame) bool {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.got <- struct{}{}
	return true
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandlerForwardsValidFrames(t *testing.T) {
	sink := &collectSink{got: make(chan struct{}, 4)}
	m := metrics.New(nil)
	srv := httptest.NewServer(NewHandler(sink, Options{}, nil, m))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ts":1,"face":true,"left":[[0,0]]}`)))
	require.NoError(t, conn.WriteJSON(NewFrame(time.UnixMilli(7), openEye(), openEye())))
	require.NoError(t, conn.WriteJSON(Frame{TS: 8}))

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.frames, 2)
	assert.Equal(t, int64(7), sink.frames[0].TS)
	assert.False(t, sink.frames[1].Face)
	assert.Equal(t, float64(1), m.FeedClients.Value())
}

func TestHandlerEnforcesReadLimit(t *testing.T) {
	sink := &collectSink{got: make(chan struct{}, 1)}
	srv := httptest.NewServer(NewHandler(sink, Options{MaxMessageBytes: 64}, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("x"), 1024)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server should close the connection")
}

func TestViewHubBroadcast(t *testing.T) {
	m := metrics.New(nil)
	hub := NewViewHub(Options{}, nil, m)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	require.NoError(t, hub.Publish(map[string]int{"row": 1}))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got map[string]int
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, 1, got["row"], "latest snapshot is replayed on connect")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(map[string]int{"row": 2}))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, 2, got["row"])
	assert.Equal(t, float64(1), m.ViewClients.Value())
}

func TestViewHubClose(t *testing.T) {
	hub := NewViewHub(Options{}, nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	assert.NoError(t, hub.Publish("ignored"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
