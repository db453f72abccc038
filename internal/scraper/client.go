// Package scraper dispatches scraping work to the external worker fleet
// over its webhook-style HTTP ingress.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
)

// launchRequest mirrors the worker ingress contract. The field names are an
// external wire format and must not change.
type launchRequest struct {
	SessionID         string `json:"session_id"`
	GoogleMapsURL     string `json:"lien_google_maps"`
	Sector            string `json:"secteur_activite"`
	LimitResults      int    `json:"limit_resultats"`
	EmailNotification string `json:"email_notification,omitempty"`
	NewFile           bool   `json:"nouveau_fichier"`
	FileName          string `json:"nom_fichier,omitempty"`
	SheetName         string `json:"nom_feuille,omitempty"`
	FileURL           string `json:"url_fichier,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// Config holds the worker endpoint settings.
type Config struct {
	// BaseURL is the full URL of the worker launch endpoint.
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// Timeout bounds each launch request (default 30s).
	Timeout time.Duration
}

// Client launches scraping runs on the external worker.
type Client struct {
	cfg    Config
	http   *http.Client
	clock  lead.Clock
	logger *zap.Logger
}

// NewClient builds a Client. A nil clock falls back to the wall clock.
func NewClient(cfg Config, clock lead.Clock, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		clock:  clock,
		logger: logger,
	}
}

// Launch asks the worker to start scraping for the session. A non-2xx
// response is an error; the caller decides how the session fails.
func (c *Client) Launch(ctx context.Context, sess lead.Session) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("worker endpoint is not configured")
	}

	payload := launchRequest{
		SessionID:         sess.ID.String(),
		GoogleMapsURL:     sess.Params.GoogleMapsURL,
		Sector:            sess.Params.Sector,
		LimitResults:      sess.Params.LimitResults,
		EmailNotification: sess.Params.EmailNotification,
		NewFile:           sess.Params.NewFile,
		FileName:          sess.Params.FileName,
		SheetName:         sess.Params.SheetName,
		FileURL:           sess.Params.FileURL,
		Timestamp:         c.now().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal launch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build launch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch to worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker rejected launch: status %d: %s", resp.StatusCode, snippet)
	}

	c.logger.Info("scraping run dispatched",
		zap.String("session_id", sess.ID.String()),
		zap.Int("limit_results", sess.Params.LimitResults),
	)
	return nil
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}
