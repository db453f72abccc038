package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/maximeroux/leadforge/internal/lead"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func testSession(t *testing.T) lead.Session {
	t.Helper()
	return lead.Session{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Params: lead.SearchParams{
			GoogleMapsURL:     "https://www.google.com/maps/search/plombier+lyon",
			Sector:            "plombier",
			Location:          "Lyon",
			LimitResults:      25,
			EmailNotification: "patron@plomberie.fr",
			NewFile:           true,
			FileName:          "prospects-lyon",
		},
		Status: lead.StatusPending,
	}
}

func TestClientLaunchSendsWireContract(t *testing.T) {
	t.Parallel()

	sess := testSession(t)
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AuthToken: "sekrit"}, fixedClock{at: at}, nil)
	require.NoError(t, client.Launch(context.Background(), sess))

	require.Equal(t, sess.ID.String(), captured["session_id"])
	require.Equal(t, sess.Params.GoogleMapsURL, captured["lien_google_maps"])
	require.Equal(t, "plombier", captured["secteur_activite"])
	require.Equal(t, float64(25), captured["limit_resultats"])
	require.Equal(t, "patron@plomberie.fr", captured["email_notification"])
	require.Equal(t, true, captured["nouveau_fichier"])
	require.Equal(t, "prospects-lyon", captured["nom_fichier"])
	require.Equal(t, at.Format(time.RFC3339), captured["timestamp"])
	_, hasSheet := captured["nom_feuille"]
	require.False(t, hasSheet, "empty optional fields should be omitted")
}

func TestClientLaunchRejectsWorkerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "worker busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil, nil)
	err := client.Launch(context.Background(), testSession(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

func TestClientLaunchRequiresEndpoint(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{}, nil, nil)
	err := client.Launch(context.Background(), testSession(t))
	require.Error(t, err)
}
