package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/estimate"
	"github.com/maximeroux/leadforge/internal/lead"
)

type launchSessionRequest struct {
	UserID            string `json:"user_id"`
	GoogleMapsURL     string `json:"google_maps_url"`
	Sector            string `json:"sector"`
	Location          string `json:"location"`
	LimitResults      int    `json:"limit_results"`
	EmailNotification string `json:"email_notification"`
	NewFile           bool   `json:"new_file"`
	FileName          string `json:"file_name"`
	SheetName         string `json:"sheet_name"`
	FileURL           string `json:"file_url"`
}

func (req launchSessionRequest) validate() (uuid.UUID, lead.SearchParams, error) {
	userID, err := uuid.Parse(req.UserID)
	if req.UserID == "" || err != nil {
		return uuid.UUID{}, lead.SearchParams{}, errors.New("valid user_id is required")
	}
	if req.GoogleMapsURL == "" {
		return uuid.UUID{}, lead.SearchParams{}, errors.New("google_maps_url is required")
	}
	limit := req.LimitResults
	if limit <= 0 {
		limit = estimate.DefaultLimit
	}
	return userID, lead.SearchParams{
		GoogleMapsURL:     req.GoogleMapsURL,
		Sector:            req.Sector,
		Location:          req.Location,
		LimitResults:      limit,
		EmailNotification: req.EmailNotification,
		NewFile:           req.NewFile,
		FileName:          req.FileName,
		SheetName:         req.SheetName,
		FileURL:           req.FileURL,
	}, nil
}

func (s *Server) launchSession(w http.ResponseWriter, r *http.Request) {
	var req launchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, params, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.engine.Launch(r.Context(), userID, params)
	if err != nil {
		s.logger.Error("session launch failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		// A dispatch failure still created (and failed) the session, so
		// the client can inspect it.
		if sess.ID != uuid.Nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   "worker dispatch failed",
				"session": sess,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id is required")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.engine.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.engine.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, canceled, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("cancel session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel session")
		return
	}
	// canceled is false when the session finished first; the session body
	// shows the state that won.
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"canceled": canceled,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Delete(r.Context(), id); err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("delete session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSessionProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	update, err := s.watcher.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("progress snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) listSessionLeads(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leads, err := s.leads.ListBySession(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.Error("list session leads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

// streamSessionEvents serves the push channel as server-sent events. The
// stream ends after the terminal update so clients do not reconnect to a
// finished session.
func (s *Server) streamSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, err := s.watcher.Watch(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("watch session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to watch session")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for update := range updates {
		data, err := json.Marshal(update)
		if err != nil {
			s.logger.Error("marshal update failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}
