package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
)

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	id, err := parseLeadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.leads.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.logger.Error("get lead failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": rec})
}

type updateLeadRequest struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (req updateLeadRequest) toPatch() (lead.LeadPatch, error) {
	var patch lead.LeadPatch
	if req.Status != nil {
		status := lead.LeadStatus(*req.Status)
		switch status {
		case lead.LeadToContact, lead.LeadInProgress, lead.LeadQualified,
			lead.LeadConverted, lead.LeadRejected:
			patch.Status = &status
		default:
			return lead.LeadPatch{}, fmt.Errorf("invalid status %q", *req.Status)
		}
	}
	patch.Notes = req.Notes
	return patch, nil
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	id, err := parseLeadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.leads.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.logger.Error("update lead failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update lead")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": updated})
}

func (s *Server) verifyLead(w http.ResponseWriter, r *http.Request) {
	id, err := parseLeadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.verifier.VerifyLead(r.Context(), id)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.logger.Error("verify lead failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": updated})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "user_id")
	userID, err := uuid.Parse(raw)
	if raw == "" || err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	profile, err := s.profiles.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("get profile failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}
