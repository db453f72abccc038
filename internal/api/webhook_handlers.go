package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/session"
)

// maxWebhookBody caps a callback at 16 MiB; a full scraped batch for the
// largest allowed session fits well under this.
const maxWebhookBody = 16 << 20

type processedDTO struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	Applied      bool   `json:"applied"`
	ResultsCount int    `json:"results_count"`
	EmailsFound  int    `json:"emails_found"`
	LeadsCreated int    `json:"leads_created"`
}

type webhookResponse struct {
	Success   bool         `json:"success"`
	Processed processedDTO `json:"processed"`
	Warning   string       `json:"warning,omitempty"`
}

// handleScrapingWebhook receives worker result callbacks. Deliveries are
// at-least-once and possibly reordered, so every accepted payload gets a 200
// even when it changes nothing; only unreadable payloads, unknown sessions,
// and store failures are error responses, which makes the worker retry.
func (s *Server) handleScrapingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	payload, err := session.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	out, err := s.engine.HandleCallback(r.Context(), payload)
	switch {
	case errors.Is(err, session.ErrBadPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, lead.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.logger.Error("webhook processing failed",
			zap.String("session_id", payload.SessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to process callback")
		return
	}

	resp := webhookResponse{
		Success: true,
		Processed: processedDTO{
			SessionID:    out.Session.ID.String(),
			Status:       string(out.Session.Status),
			Applied:      out.Applied,
			ResultsCount: out.ResultsCount,
			EmailsFound:  out.EmailsFound,
			LeadsCreated: out.Inserted,
		},
	}
	if out.IngestErr != nil {
		resp.Warning = "session updated but lead batch was not persisted"
	}
	writeJSON(w, http.StatusOK, resp)
}
