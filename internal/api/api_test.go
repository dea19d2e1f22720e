package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinkscan/internal/health"
	"blinkscan/internal/metrics"
	"blinkscan/internal/pipeline"
	"blinkscan/internal/scanner"
	"blinkscan/internal/store"
)

type fakeController struct {
	view    pipeline.View
	period  time.Duration
	preset  string
	text    string
	learned []string
	err     error
	cleared bool
}

func (f *fakeController) View() pipeline.View { return f.view }

func (f *fakeController) SetPeriod(_ context.Context, d time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if d <= 0 {
		return scanner.ErrInvalidPeriod
	}
	f.period = d
	f.view.Period = d
	return nil
}

func (f *fakeController) SetSpeed(ctx context.Context, preset string) error {
	d, err := scanner.PresetPeriod(preset)
	if err != nil {
		return err
	}
	f.preset = preset
	return f.SetPeriod(ctx, d)
}

func (f *fakeController) Text(context.Context) (string, error) { return f.text, f.err }

func (f *fakeController) ClearText(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = true
	f.text = ""
	return nil
}

func (f *fakeController) Learn(context.Context) ([]string, error) { return f.learned, f.err }

type fakeSessions struct {
	sessions []store.Session
	limit    int
}

func (f *fakeSessions) RecentSessions(limit int) ([]store.Session, error) {
	f.limit = limit
	return f.sessions, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSnapshotAndText(t *testing.T) {
	ctrl := &fakeController{text: "HI"}
	ctrl.view.Text = "HI"
	ctrl.view.Highlighted = "A"
	h := New(Options{Controller: ctrl}).Handler()

	rec := do(t, h, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var view map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "A", view["highlighted"])
	assert.Equal(t, "HI", view["text"])

	rec = do(t, h, http.MethodGet, "/api/text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"HI"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/text/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ctrl.cleared)

	rec = do(t, h, http.MethodPost, "/api/text", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSpeed(t *testing.T) {
	ctrl := &fakeController{}
	h := New(Options{Controller: ctrl}).Handler()

	rec := do(t, h, http.MethodPut, "/api/speed", `{"period_ms":750}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 750*time.Millisecond, ctrl.period)

	rec = do(t, h, http.MethodPut, "/api/speed", `{"preset":"slow"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "slow", ctrl.preset)

	tests := []struct {
		name string
		body string
	}{
		{"unknown preset", `{"preset":"warp"}`},
		{"negative period", `{"period_ms":-5}`},
		{"empty", `{}`},
		{"unknown field", `{"speed":3}`},
		{"malformed", `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/api/speed", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestStoppedPipeline(t *testing.T) {
	ctrl := &fakeController{err: pipeline.ErrStopped}
	h := New(Options{Controller: ctrl}).Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/text", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPut, "/api/speed", `{"period_ms":500}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/text/learn", "").Code)

	ctrl.err = errors.New("disk on fire")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/api/text/clear", "").Code)
}

func TestLearn(t *testing.T) {
	ctrl := &fakeController{}
	h := New(Options{Controller: ctrl}).Handler()

	rec := do(t, h, http.MethodPost, "/api/text/learn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"words":[]}`, rec.Body.String())

	ctrl.learned = []string{"hello"}
	rec = do(t, h, http.MethodPost, "/api/text/learn", "")
	assert.JSONEq(t, `{"words":["hello"]}`, rec.Body.String())
}

func TestSessions(t *testing.T) {
	h := New(Options{Controller: &fakeController{}}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sessions", "").Code)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions := &fakeSessions{sessions: []store.Session{{
		ID: "s1", StartedAt: start, Source: "replay", Blinks: 4, Commits: 2, Text: "HI",
	}}}
	h = New(Options{Controller: &fakeController{}, Sessions: sessions}).Handler()

	rec := do(t, h, http.MethodGet, "/api/sessions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, sessions.limit)
	var out []SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "HI", out[0].Text)
	assert.Nil(t, out[0].EndedAt)

	do(t, h, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, 20, sessions.limit)

	for _, q := range []string{"0", "abc", "5000"} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/sessions?limit="+q, "").Code, q)
	}
}

func TestRequestID(t *testing.T) {
	h := New(Options{Controller: &fakeController{}}).Handler()

	rec := do(t, h, http.MethodGet, "/api/snapshot", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := New(Options{Controller: &fakeController{}}).Handler()
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)

	checker := health.NewChecker()
	checker.RegisterFunc("loop", true, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusHealthy}
	})
	reg := metrics.NewRegistry("blinkscan")
	m := metrics.New(reg)
	m.BlinksTotal.Inc()

	h = New(Options{Controller: &fakeController{}, Health: checker, Metrics: reg}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health/ready", "").Code)
	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/live", "").Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blinkscan_blinks_total")
}

func TestRecoverer(t *testing.T) {
	s := New(Options{Controller: &fakeController{}})
	h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeAndShutdown(t *testing.T) {
	s := New(Options{Controller: &fakeController{}})
	require.NoError(t, s.Shutdown(context.Background()))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
