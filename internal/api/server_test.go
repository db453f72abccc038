package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/maximeroux/leadforge/internal/ingest"
	uuidgen "github.com/maximeroux/leadforge/internal/id/uuid"
	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/metrics"
	"github.com/maximeroux/leadforge/internal/notify"
	"github.com/maximeroux/leadforge/internal/session"
	"github.com/maximeroux/leadforge/internal/storage/memory"
	"github.com/maximeroux/leadforge/internal/verify"
)

type stubClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	launched []uuid.UUID
	err      error
}

func (d *fakeDispatcher) Launch(_ context.Context, sess lead.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.launched = append(d.launched, sess.ID)
	return nil
}

type testEnv struct {
	handler    http.Handler
	sessions   *memory.SessionStore
	leads      *memory.LeadStore
	profiles   *memory.ProfileStore
	dispatcher *fakeDispatcher
	clock      *stubClock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	leads := memory.NewLeadStore()
	sessions := memory.NewSessionStore(leads)
	profiles := memory.NewProfileStore()
	blobs := memory.NewBlobStore()
	clock := &stubClock{at: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	ids := uuidgen.NewGenerator()
	dispatcher := &fakeDispatcher{}

	hub := notify.NewHub(notify.Config{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Close(ctx)
	})

	engine := session.NewEngine(session.Config{
		Sessions:   sessions,
		Ingestor:   ingest.New(leads, ids, clock, nil),
		Profiles:   profiles,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Notifier:   hub,
		Clock:      clock,
		IDs:        ids,
	})
	watcher := notify.NewWatcher(sessions, hub, notify.WatcherConfig{Clock: clock})
	verifier := verify.NewService(leads, verify.Heuristic{}, clock, nil)

	srv := NewServer(engine, leads, profiles, watcher, verifier, cfg, nil)
	return &testEnv{
		handler:    srv.Handler(),
		sessions:   sessions,
		leads:      leads,
		profiles:   profiles,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (env *testEnv) launch(t *testing.T, userID uuid.UUID, limit int) uuid.UUID {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"user_id":         userID.String(),
		"google_maps_url": "https://www.google.com/maps/search/plombier+lyon",
		"sector":          "plombier",
		"limit_results":   limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	sess := body["session"].(map[string]any)
	id, err := uuid.Parse(sess["id"].(string))
	require.NoError(t, err)
	return id
}

func completionPayload(sessionID uuid.UUID) map[string]any {
	return map[string]any{
		"session_id":              sessionID.String(),
		"statut":                  "termine",
		"lien_google_sheet":       "https://docs.google.com/spreadsheets/d/abc",
		"nom_feuille_google_sheet": "Prospects Lyon",
		"json_donnee_scrappe": []map[string]any{
			{
				"Titre":         "Plomberie Durand",
				"Rue":           "5 rue des Lilas",
				"Ville":         "Lyon",
				"Code postal":   "69003",
				"Email":         "contact@plomberie-durand.fr",
				"Téléphone":     33472000001,
				"Score total":   4.6,
				"Nombre d'avis": 120,
			},
			{
				"Titre":       "Plomberie Express",
				"Rue":         "12 quai Perrache",
				"Ville":       "Lyon",
				"Code postal": "69002",
				"Email":       "aucun_mail",
			},
		},
	}
}

func TestWebhookCompletesSessionAndIngestsLeads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	userID := uuid.New()
	sessionID := env.launch(t, userID, 10)

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", completionPayload(sessionID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	processed := body["processed"].(map[string]any)
	require.Equal(t, "completed", processed["status"])
	require.Equal(t, true, processed["applied"])
	require.Equal(t, float64(2), processed["results_count"])
	require.Equal(t, float64(1), processed["emails_found"], "sentinel emails do not count")
	require.Equal(t, float64(2), processed["leads_created"])

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody(t, rec)["session"].(map[string]any)
	require.Equal(t, "completed", sess["status"])
	require.Equal(t, float64(100), sess["progress_percentage"])
	require.Equal(t, "https://docs.google.com/spreadsheets/d/abc", sess["sheet_url"])

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/leads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	leads := decodeBody(t, rec)["leads"].([]any)
	require.Len(t, leads, 2)

	rec = env.do(t, http.MethodGet, "/v1/users/"+userID.String()+"/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody(t, rec)["profile"].(map[string]any)
	require.Equal(t, float64(1), profile["total_scraping_count"])
	require.Equal(t, float64(2), profile["total_leads_generated"])
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)
	payload := completionPayload(sessionID)

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/webhook/scraping", payload)
	require.Equal(t, http.StatusOK, rec.Code, "re-delivery must be acknowledged")
	processed := decodeBody(t, rec)["processed"].(map[string]any)
	require.Equal(t, false, processed["applied"])
	require.Equal(t, float64(0), processed["leads_created"])

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/leads", nil)
	leads := decodeBody(t, rec)["leads"].([]any)
	require.Len(t, leads, 2, "no duplicate rows after re-delivery")
}

func TestWebhookLateProgressAfterCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", completionPayload(sessionID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/webhook/scraping", map[string]any{
		"session_id": sessionID.String(),
		"statut":     "en_cours",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	processed := decodeBody(t, rec)["processed"].(map[string]any)
	require.Equal(t, false, processed["applied"])
	require.Equal(t, "completed", processed["status"], "terminal state is frozen")
}

func TestWebhookEnvelopeArrayForm(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)

	// Some worker versions wrap the envelope in a one-element array.
	raw, err := json.Marshal([]map[string]any{completionPayload(sessionID)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/scraping", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	processed := decodeBody(t, rec)["processed"].(map[string]any)
	require.Equal(t, "completed", processed["status"])
}

func TestWebhookErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", map[string]any{"statut": "termine"})
	require.Equal(t, http.StatusBadRequest, rec.Code, "missing session_id")

	rec = env.do(t, http.MethodPost, "/v1/webhook/scraping", map[string]any{
		"session_id": "not-a-uuid",
		"statut":     "termine",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/webhook/scraping", map[string]any{
		"session_id": uuid.New().String(),
		"statut":     "termine",
	})
	require.Equal(t, http.StatusNotFound, rec.Code, "unknown session")

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/scraping", bytes.NewReader([]byte("{broken")))
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestWebhookFailureCallback(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", map[string]any{
		"session_id": sessionID.String(),
		"statut":     "echoue",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	processed := decodeBody(t, rec)["processed"].(map[string]any)
	require.Equal(t, "failed", processed["status"])

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String(), nil)
	sess := decodeBody(t, rec)["session"].(map[string]any)
	require.Equal(t, "failed", sess["status"])
	require.NotEmpty(t, sess["error_message"])
}

func TestCancelWinsOnlyWhileRunning(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+sessionID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["canceled"])
	sess := body["session"].(map[string]any)
	require.Equal(t, "failed", sess["status"])
	require.Equal(t, "stopped by user", sess["error_message"])

	// A completion that raced in after the cancel is acknowledged but
	// changes nothing.
	rec = env.do(t, http.MethodPost, "/v1/webhook/scraping", completionPayload(sessionID))
	require.Equal(t, http.StatusOK, rec.Code)
	processed := decodeBody(t, rec)["processed"].(map[string]any)
	require.Equal(t, false, processed["applied"])

	// Cancel after terminal is a no-op.
	rec = env.do(t, http.MethodPost, "/v1/sessions/"+sessionID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["canceled"])
}

func TestLaunchValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"google_maps_url": "https://maps.example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, "user_id required")

	rec = env.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"user_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, "google_maps_url required")
}

func TestLaunchDispatchFailureFailsSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.dispatcher.err = fmt.Errorf("worker unreachable")

	rec := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"user_id":         uuid.New().String(),
		"google_maps_url": "https://maps.example.com",
		"limit_results":   5,
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	sess := decodeBody(t, rec)["session"].(map[string]any)
	require.Equal(t, "failed", sess["status"])
}

func TestSessionProgressBlendsTimeEstimate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)

	env.clock.Advance(80 * time.Second)

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(50), body["display_percentage"])
	require.Equal(t, "extraction", body["current_step"])
	require.Equal(t, float64(80), body["remaining_seconds"])
	require.Equal(t, "1 min 20 sec", body["remaining_label"])
}

func TestSessionListAndDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	userID := uuid.New()
	first := env.launch(t, userID, 10)
	env.clock.Advance(time.Minute)
	second := env.launch(t, userID, 10)

	rec := env.do(t, http.MethodGet, "/v1/sessions?user_id="+userID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 2)
	newest := sessions[0].(map[string]any)
	require.Equal(t, second.String(), newest["id"], "newest first")

	rec = env.do(t, http.MethodDelete, "/v1/sessions/"+first.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+first.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeadUpdateAndVerify(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	sessionID := env.launch(t, uuid.New(), 10)
	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", completionPayload(sessionID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/leads", nil)
	leads := decodeBody(t, rec)["leads"].([]any)
	require.NotEmpty(t, leads)
	var target map[string]any
	for _, l := range leads {
		entry := l.(map[string]any)
		if entry["email"] == "contact@plomberie-durand.fr" {
			target = entry
		}
	}
	require.NotNil(t, target)
	leadID := target["id"].(string)

	rec = env.do(t, http.MethodPatch, "/v1/leads/"+leadID, map[string]any{
		"status": "qualified",
		"notes":  "rappeler lundi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)["lead"].(map[string]any)
	require.Equal(t, "qualified", updated["status"])
	require.Equal(t, "rappeler lundi", updated["notes"])

	rec = env.do(t, http.MethodPatch, "/v1/leads/"+leadID, map[string]any{
		"status": "bogus",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decodeBody(t, rec)["lead"].(map[string]any)
	require.Equal(t, "valid", verified["email_status"])
	require.NotEmpty(t, verified["email_last_verified_at"])
}

func TestAPIKeyGuardsClientRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{APIKey: "sekrit"})

	rec := env.do(t, http.MethodGet, "/v1/sessions?user_id="+uuid.New().String(), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/sessions?user_id="+uuid.New().String()+"&api_key=sekrit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health stays open")
}

func TestWebhookTokenGuardsWorkerRoute(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{WebhookToken: "worker-token"})
	sessionID := env.launch(t, uuid.New(), 10)

	rec := env.do(t, http.MethodPost, "/v1/webhook/scraping", completionPayload(sessionID))
	require.Equal(t, http.StatusForbidden, rec.Code)

	data, err := json.Marshal(completionPayload(sessionID))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/scraping", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer worker-token")
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusOK, raw.Code)
}

func TestRequestMetricsRecorded(t *testing.T) {
	t.Parallel()

	metrics.Init()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `http_requests_total{code="200",method="GET"}`)
	require.Contains(t, body, `http_request_duration_seconds_bucket`)
	require.Contains(t, body, `route="/healthz"`)
}
