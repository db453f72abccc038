package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maximeroux/leadforge/internal/lead"
)

func TestProfileStoreBumpCreatesMissingProfile(t *testing.T) {
	t.Parallel()

	store := NewProfileStore()
	userID := uuid.New()

	if _, err := store.Get(context.Background(), userID); !errors.Is(err, lead.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2025, 3, 14, 16, 30, 0, 0, time.UTC)
	if err := store.BumpScrapingStats(context.Background(), userID, 12, at); err != nil {
		t.Fatalf("BumpScrapingStats() error = %v", err)
	}
	if err := store.BumpScrapingStats(context.Background(), userID, 3, at.Add(time.Hour)); err != nil {
		t.Fatalf("BumpScrapingStats() error = %v", err)
	}

	p, err := store.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.TotalScrapingCount != 2 || p.TotalLeadsGenerated != 15 {
		t.Fatalf("unexpected aggregates %+v", p)
	}
	if p.LastScrapingDate == nil || !p.LastScrapingDate.Equal(at.Truncate(24*time.Hour)) {
		t.Fatalf("expected day-truncated date, got %v", p.LastScrapingDate)
	}
}

func TestProfileStorePutSeedsProfile(t *testing.T) {
	t.Parallel()

	store := NewProfileStore()
	seed := lead.Profile{ID: uuid.New(), Email: "user@example.com", FullName: "Maxime Roux"}
	store.Put(seed)

	p, err := store.Get(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Email != seed.Email || p.FullName != seed.FullName {
		t.Fatalf("unexpected profile %+v", p)
	}
}
