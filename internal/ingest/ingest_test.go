package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	uuidgen "github.com/maximeroux/leadforge/internal/id/uuid"
	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/storage/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func rawBatch(t *testing.T) []lead.RawItem {
	t.Helper()
	data := []byte(`[
		{
			"Nom de catégorie": "Plombier",
			"Titre": "Plomberie Durand",
			"Rue": "5 rue des Lilas",
			"Ville": "Lyon",
			"Code postal": 69003,
			"Email": "contact@plomberie-durand.fr",
			"Téléphone": 33472000001,
			"Score total": 4.6,
			"Nombre d'avis": 120
		},
		{
			"Titre": "Plomberie Express",
			"Rue": "12 quai Perrache",
			"Ville": "Lyon",
			"Code postal": "69002",
			"Email": "aucun_mail",
			"Téléphone": "04 72 00 00 02"
		},
		{
			"Rue": "3 place Bellecour",
			"Ville": "Lyon"
		}
	]`)
	var items []lead.RawItem
	require.NoError(t, json.Unmarshal(data, &items))
	return items
}

func TestCountUsesOverrideAndFiltersSentinel(t *testing.T) {
	t.Parallel()

	items := rawBatch(t)
	c := Count(items, 0)
	require.Equal(t, 3, c.Count)
	require.Equal(t, 1, c.EmailsFound, "sentinel and empty emails do not count")

	c = Count(items, 10)
	require.Equal(t, 10, c.Count, "positive worker count wins")
	require.Equal(t, 1, c.EmailsFound)
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	require.True(t, ValidEmail("a@b.fr"))
	require.False(t, ValidEmail(""))
	require.False(t, ValidEmail(NoEmailSentinel))
	require.False(t, ValidEmail("not-an-email"))
}

func TestAddressSkipsEmptyParts(t *testing.T) {
	t.Parallel()

	items := rawBatch(t)
	require.Equal(t, "5 rue des Lilas, 69003, Lyon", Address(items[0]))
	require.Equal(t, "3 place Bellecour, Lyon", Address(items[2]))
	require.Equal(t, "", Address(lead.RawItem{}))
}

func TestPhoneString(t *testing.T) {
	t.Parallel()

	items := rawBatch(t)
	require.Equal(t, "+33472000001", PhoneString(items[0].Phone), "numeric source gains a plus")
	require.Equal(t, "04 72 00 00 02", PhoneString(items[1].Phone), "string source passes through")
	require.Equal(t, "", PhoneString(lead.Phone{}))
}

func TestMergeBuildsNormalizedLeads(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	sessionID := uuid.New()
	userID := uuid.New()
	leads.BindSession(sessionID, userID)

	ing := New(leads, uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)
	out, err := ing.Merge(context.Background(), sessionID, userID, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 3, out.Inserted)
	require.Equal(t, 0, out.Skipped)

	stored, err := leads.ListBySession(context.Background(), sessionID, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	byName := make(map[string]lead.Lead, len(stored))
	for _, l := range stored {
		byName[l.BusinessName] = l
	}
	durand := byName["Plomberie Durand"]
	require.Equal(t, "contact@plomberie-durand.fr", durand.Email)
	require.Equal(t, "+33472000001", durand.Phone)
	require.Equal(t, "Plombier", durand.Category)
	require.Equal(t, lead.LeadToContact, durand.Status)
	require.Equal(t, lead.EmailUnverified, durand.EmailStatus)
	require.NotEmpty(t, durand.Raw, "original item is preserved verbatim")

	express := byName["Plomberie Express"]
	require.Equal(t, "", express.Email, "sentinel email is stored empty")

	unnamed := byName["Sans nom"]
	require.Equal(t, "3 place Bellecour, Lyon", unnamed.Address)
}

func TestMergeRedeliveryInsertsNothing(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	sessionID := uuid.New()
	userID := uuid.New()
	leads.BindSession(sessionID, userID)

	ing := New(leads, uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)

	first, err := ing.Merge(context.Background(), sessionID, userID, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 3, first.Inserted)

	second, err := ing.Merge(context.Background(), sessionID, userID, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 0, second.Inserted)
	require.Equal(t, 3, second.Skipped)
}

func TestMergeDedupesAcrossSessionsOfSameUser(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	userID := uuid.New()
	firstSession := uuid.New()
	secondSession := uuid.New()
	leads.BindSession(firstSession, userID)
	leads.BindSession(secondSession, userID)

	ing := New(leads, uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)

	_, err := ing.Merge(context.Background(), firstSession, userID, rawBatch(t))
	require.NoError(t, err)

	out, err := ing.Merge(context.Background(), secondSession, userID, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 0, out.Inserted, "same business for the same user is one lead")
}

func TestMergeKeepsSameBusinessForDifferentUsers(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	userA := uuid.New()
	userB := uuid.New()
	sessionA := uuid.New()
	sessionB := uuid.New()
	leads.BindSession(sessionA, userA)
	leads.BindSession(sessionB, userB)

	ing := New(leads, uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)

	outA, err := ing.Merge(context.Background(), sessionA, userA, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 3, outA.Inserted)

	outB, err := ing.Merge(context.Background(), sessionB, userB, rawBatch(t))
	require.NoError(t, err)
	require.Equal(t, 3, outB.Inserted, "dedup scope is per user")
}

func TestMergeDedupesWithinBatch(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	sessionID := uuid.New()
	userID := uuid.New()
	leads.BindSession(sessionID, userID)

	items := rawBatch(t)
	items = append(items, items[0])

	ing := New(leads, uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)
	out, err := ing.Merge(context.Background(), sessionID, userID, items)
	require.NoError(t, err)
	require.Equal(t, 3, out.Inserted)
	require.Equal(t, 1, out.Skipped)
}

func TestMergeEmptyBatch(t *testing.T) {
	t.Parallel()

	ing := New(memory.NewLeadStore(), uuidgen.NewGenerator(), fixedClock{at: time.Now().UTC()}, nil)
	out, err := ing.Merge(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	require.Zero(t, out.Inserted)
	require.Zero(t, out.Skipped)
}
