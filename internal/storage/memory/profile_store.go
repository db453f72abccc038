package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maximeroux/leadforge/internal/lead"
)

// ProfileStore keeps per-user aggregates in memory.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]lead.Profile
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[uuid.UUID]lead.Profile)}
}

// Put seeds or replaces a profile.
func (s *ProfileStore) Put(p lead.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Get fetches a profile by user ID.
func (s *ProfileStore) Get(_ context.Context, id uuid.UUID) (lead.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return lead.Profile{}, lead.ErrNotFound
	}
	return p, nil
}

// BumpScrapingStats increments the session and lead totals. Missing
// profiles are created so webhook processing never fails on aggregates.
func (s *ProfileStore) BumpScrapingStats(_ context.Context, userID uuid.UUID, leads int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.ID = userID
	p.TotalScrapingCount++
	p.TotalLeadsGenerated += leads
	day := at.Truncate(24 * time.Hour)
	p.LastScrapingDate = &day
	s.profiles[userID] = p
	return nil
}
