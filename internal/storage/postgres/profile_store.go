package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maximeroux/leadforge/internal/lead"
)

// ProfileStore persists per-user dashboard aggregates in Postgres.
type ProfileStore struct {
	db DB
}

// NewProfileStore constructs a ProfileStore on an open pool.
func NewProfileStore(db DB) (*ProfileStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ProfileStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *ProfileStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Get fetches a profile by user ID.
func (s *ProfileStore) Get(ctx context.Context, id uuid.UUID) (lead.Profile, error) {
	query := `
		SELECT id, email, full_name, total_scraping_count, total_leads_generated, last_scraping_date
		FROM profiles
		WHERE id = $1;
	`
	var p lead.Profile
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.TotalScrapingCount,
		&p.TotalLeadsGenerated,
		&p.LastScrapingDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lead.Profile{}, lead.ErrNotFound
		}
		return lead.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return p, nil
}

// BumpScrapingStats increments the session and lead totals and stamps the
// last scraping date. A missing profile row is created on the way.
func (s *ProfileStore) BumpScrapingStats(
	ctx context.Context,
	userID uuid.UUID,
	leads int,
	at time.Time,
) error {
	query := `
		INSERT INTO profiles (id, email, full_name, total_scraping_count, total_leads_generated, last_scraping_date)
		VALUES ($1, '', '', 1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			total_scraping_count = profiles.total_scraping_count + 1,
			total_leads_generated = profiles.total_leads_generated + EXCLUDED.total_leads_generated,
			last_scraping_date = EXCLUDED.last_scraping_date;
	`
	_, err := s.db.Exec(ctx, query, userID, leads, at.UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("bump profile stats: %w", err)
	}
	return nil
}

var _ lead.ProfileStore = (*ProfileStore)(nil)
