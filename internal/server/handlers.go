package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/normanking/avatarchat/internal/engine"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"viewers": s.hub.Count(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Transcript())
}

func (s *Server) handleClearTranscript(w http.ResponseWriter, r *http.Request) {
	s.ctl.ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

var errBadLimit = errors.New("limit must be a non-negative integer")

// parseLimit reads ?limit=. Absent or 0 means no limit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadLimit
	}
	return n, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.logs.GetHistory(limit))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	if err := s.ctl.Connect(ctx); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

// command adapts a no-argument controller command.
func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.ctl.Snapshot())
	}
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.command(func() error { return s.ctl.SendText(req.Text) })(w, r)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.command(func() error { return s.ctl.Echo(req.Text) })(w, r)
}

func (s *Server) handleEchoNext(w http.ResponseWriter, r *http.Request) {
	text, err := s.ctl.PlayNextEcho()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "state": s.ctl.Snapshot()})
}

func (s *Server) handleAudioEchoStart(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.command(func() error { return s.ctl.StartAudioEcho(req.Audio) })(w, r)
}

func (s *Server) handleStopSpeech(w http.ResponseWriter, r *http.Request) {
	decision, err := s.ctl.StopSpeech()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !decision.Approved {
		status = http.StatusConflict
	}
	writeJSON(w, status, decision)
}

func (s *Server) handleChangeAvatar(w http.ResponseWriter, r *http.Request) {
	var opt engine.ChangeAvatarOption
	if err := decodeBody(w, r, &opt); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()
	s.command(func() error { return s.ctl.ChangeAvatar(ctx, opt) })(w, r)
}

var errArchiveDisabled = errors.New("archive is disabled")

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errArchiveDisabled)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.archive.ListSessions(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sessions == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errArchiveDisabled)
		return
	}
	entries, err := s.archive.LoadTranscript(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, func() any { return s.ctl.Snapshot() })
}
