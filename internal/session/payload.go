// Package session owns the scraping session lifecycle: launching sessions,
// applying worker callbacks under the lifecycle-rank guard, cancellation,
// and deletion.
package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maximeroux/leadforge/internal/lead"
)

// Worker status tokens carried in the callback's "statut" field.
const (
	TokenDone       = "termine"
	TokenInProgress = "en_cours"
	TokenFailed     = "echoue"
)

// ErrBadPayload marks a callback that cannot identify a session.
var ErrBadPayload = errors.New("session_id is required")

// CallbackPayload is the worker webhook envelope. Field names are part of
// the worker contract and must not change.
type CallbackPayload struct {
	SessionID string `json:"session_id"`
	Statut    string `json:"statut,omitempty"`
	SheetURL  string `json:"lien_google_sheet,omitempty"`
	SheetName string `json:"nom_feuille_google_sheet,omitempty"`
	Count     int    `json:"count,omitempty"`
	// ScrapedJSON arrives either as an inline array or as a JSON string
	// wrapping one, depending on the worker's automation tool.
	ScrapedJSON json.RawMessage `json:"json_donnee_scrappe,omitempty"`
}

// DecodePayload accepts either a bare envelope or a one-element array; the
// worker's automation tool emits both forms.
func DecodePayload(data []byte) (CallbackPayload, error) {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var batch []CallbackPayload
		if err := json.Unmarshal(data, &batch); err != nil {
			return CallbackPayload{}, fmt.Errorf("decode callback array: %w", err)
		}
		if len(batch) == 0 {
			return CallbackPayload{}, errors.New("empty callback array")
		}
		return batch[0], nil
	}
	var payload CallbackPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return CallbackPayload{}, fmt.Errorf("decode callback: %w", err)
	}
	return payload, nil
}

// TargetStatus maps the coarse status token onto the session lifecycle.
// Anything unrecognized, including an absent token, means the worker is
// still running; the first callback always advances a pending session.
func (p CallbackPayload) TargetStatus() lead.SessionStatus {
	switch p.Statut {
	case TokenDone:
		return lead.StatusCompleted
	case TokenFailed:
		return lead.StatusFailed
	default:
		return lead.StatusInProgress
	}
}

// Items decodes the scraped batch. An empty field is not an error; a
// malformed one is, so the caller can surface the partial failure.
func (p CallbackPayload) Items() ([]lead.RawItem, error) {
	if len(p.ScrapedJSON) == 0 {
		return nil, nil
	}
	data := []byte(p.ScrapedJSON)
	if firstNonSpace(data) == '"' {
		var wrapped string
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode scraped batch wrapper: %w", err)
		}
		if wrapped == "" {
			return nil, nil
		}
		data = []byte(wrapped)
	}
	var items []lead.RawItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode scraped batch: %w", err)
	}
	return items, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
