package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"blinkscan/internal/pipeline"
	"blinkscan/internal/scanner"
)

type errorResponse struct {
	Error string `json:"error"`
}

// SpeedRequest selects a preset or an explicit period. Preset wins.
type SpeedRequest struct {
	Preset   string `json:"preset,omitempty"`
	PeriodMs int    `json:"period_ms,omitempty"`
}

// SessionResponse is one entry of GET /api/sessions.
type SessionResponse struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Source         string     `json:"source"`
	Blinks         int        `json:"blinks"`
	Commits        int        `json:"commits"`
	Text           string     `json:"text"`
	CharsPerMinute float64    `json:"chars_per_minute"`
}

const maxBodyBytes = 4096

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) command(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.CommandTimeout)
}

// commandError maps pipeline errors to status codes.
func (s *Server) commandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "pipeline stopped")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "pipeline busy")
	case errors.Is(err, scanner.ErrInvalidPeriod), errors.Is(err, scanner.ErrUnknownPreset):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithContext(r.Context()).Error("command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Controller.View())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := s.command(r)
	defer cancel()

	var err error
	switch {
	case req.Preset != "":
		err = s.opts.Controller.SetSpeed(ctx, req.Preset)
	case req.PeriodMs != 0:
		err = s.opts.Controller.SetPeriod(ctx, time.Duration(req.PeriodMs)*time.Millisecond)
	default:
		writeError(w, http.StatusBadRequest, "preset or period_ms required")
		return
	}
	if err != nil {
		s.commandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Controller.View())
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.command(r)
	defer cancel()
	text, err := s.opts.Controller.Text(ctx)
	if err != nil {
		s.commandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.command(r)
	defer cancel()
	if err := s.opts.Controller.ClearText(ctx); err != nil {
		s.commandError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.command(r)
	defer cancel()
	words, err := s.opts.Controller.Learn(ctx)
	if err != nil {
		s.commandError(w, r, err)
		return
	}
	if words == nil {
		words = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"words": words})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	sessions, err := s.opts.Sessions.RecentSessions(limit)
	if err != nil {
		s.logger.WithContext(r.Context()).Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionResponse{
			ID:             sess.ID,
			StartedAt:      sess.StartedAt,
			EndedAt:        sess.EndedAt,
			Source:         sess.Source,
			Blinks:         sess.Blinks,
			Commits:        sess.Commits,
			Text:           sess.Text,
			CharsPerMinute: sess.CharsPerMinute,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
