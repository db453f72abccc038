package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/metrics"
	"github.com/maximeroux/leadforge/internal/notify"
	"github.com/maximeroux/leadforge/internal/session"
	"github.com/maximeroux/leadforge/internal/verify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Config carries the server's HTTP-level settings.
type Config struct {
	// RequestTimeout bounds non-streaming requests (default 60s).
	RequestTimeout time.Duration
	// APIKey, when set, is required on every request except health checks
	// and the worker webhook, which authenticates via WebhookToken.
	APIKey string
	// WebhookToken, when set, is required on the worker callback route.
	WebhookToken string
}

// Server wires HTTP handlers to the engine and stores.
type Server struct {
	router   chi.Router
	engine   *session.Engine
	leads    lead.LeadStore
	profiles lead.ProfileStore
	watcher  *notify.Watcher
	verifier *verify.Service
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	engine *session.Engine,
	leads lead.LeadStore,
	profiles lead.ProfileStore,
	watcher *notify.Watcher,
	verifier *verify.Service,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		leads:    leads,
		profiles: profiles,
		watcher:  watcher,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The worker authenticates with its own token, not the client API key.
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.WebhookToken != "" {
			r.Use(bearerTokenMiddleware(cfg.WebhookToken))
		}
		r.Post("/v1/webhook/scraping", s.handleScrapingWebhook)
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}

		r.Route("/sessions", func(r chi.Router) {
			r.With(timeoutMiddleware(cfg.RequestTimeout)).Post("/", s.launchSession)
			r.With(timeoutMiddleware(cfg.RequestTimeout)).Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				// http.TimeoutHandler buffers the whole response, so
				// the SSE route must not sit behind it.
				r.Get("/events", s.streamSessionEvents)
				r.Group(func(r chi.Router) {
					r.Use(timeoutMiddleware(cfg.RequestTimeout))
					r.Get("/", s.getSession)
					r.Delete("/", s.deleteSession)
					r.Post("/cancel", s.cancelSession)
					r.Get("/progress", s.getSessionProgress)
					r.Get("/leads", s.listSessionLeads)
				})
			})
		})
		r.Route("/leads/{lead_id}", func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Get("/", s.getLead)
			r.Patch("/", s.updateLead)
			r.Post("/verify", s.verifyLead)
		})
		r.With(timeoutMiddleware(cfg.RequestTimeout)).Get("/users/{user_id}/profile", s.getProfile)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The engine reads through the session store, so a probe read proves
	// the storage dependency is reachable.
	if _, err := s.engine.Get(r.Context(), uuid.Nil); err != nil && !errors.Is(err, lead.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("session_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid session_id")
	}
	return id, nil
}

func parseLeadID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "lead_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("lead_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid lead_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", elapsed),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerTokenMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
