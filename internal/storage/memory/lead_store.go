package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maximeroux/leadforge/internal/lead"
)

// LeadStore keeps leads in a mutex-guarded map, indexed by session for
// listing and by owning user for natural-key deduplication.
type LeadStore struct {
	mu        sync.RWMutex
	leads     map[uuid.UUID]lead.Lead
	bySession map[uuid.UUID][]uuid.UUID
	ownerOf   map[uuid.UUID]uuid.UUID // session -> user
}

// NewLeadStore constructs a LeadStore.
func NewLeadStore() *LeadStore {
	return &LeadStore{
		leads:     make(map[uuid.UUID]lead.Lead),
		bySession: make(map[uuid.UUID][]uuid.UUID),
		ownerOf:   make(map[uuid.UUID]uuid.UUID),
	}
}

// BindSession records which user owns a session so ExistingKeys can scan
// per user. The Postgres implementation gets this from a join instead.
func (s *LeadStore) BindSession(sessionID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerOf[sessionID] = userID
}

// InsertBatch writes new leads, skipping natural-key collisions per user.
func (s *LeadStore) InsertBatch(_ context.Context, batch []lead.Lead) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, rec := range batch {
		owner := s.ownerOf[rec.SessionID]
		if s.keyExistsLocked(owner, rec.Key()) {
			continue
		}
		s.leads[rec.ID] = rec
		s.bySession[rec.SessionID] = append(s.bySession[rec.SessionID], rec.ID)
		inserted++
	}
	return inserted, nil
}

// ExistingKeys returns the natural-key set across the user's sessions.
func (s *LeadStore) ExistingKeys(_ context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]struct{})
	for _, rec := range s.leads {
		if s.ownerOf[rec.SessionID] == userID {
			keys[rec.Key()] = struct{}{}
		}
	}
	return keys, nil
}

// ListBySession returns the session's leads in insertion order.
func (s *LeadStore) ListBySession(_ context.Context, sessionID uuid.UUID, limit, offset int) ([]lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	out := make([]lead.Lead, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.leads[id])
	}
	return page(out, limit, offset), nil
}

// Get fetches a lead by ID.
func (s *LeadStore) Get(_ context.Context, id uuid.UUID) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	return rec, nil
}

// Update applies a user-driven patch to a lead.
func (s *LeadStore) Update(_ context.Context, id uuid.UUID, patch lead.LeadPatch) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	if patch.EmailStatus != nil {
		rec.EmailStatus = *patch.EmailStatus
	}
	if patch.EmailVerifiedAt != nil {
		rec.EmailVerifiedAt = patch.EmailVerifiedAt
	}
	if patch.LastActionAt != nil {
		rec.LastActionAt = patch.LastActionAt
	} else {
		now := time.Now().UTC()
		rec.LastActionAt = &now
	}
	s.leads[id] = rec
	return rec, nil
}

func (s *LeadStore) keyExistsLocked(userID uuid.UUID, key string) bool {
	for _, rec := range s.leads {
		if s.ownerOf[rec.SessionID] == userID && rec.Key() == key {
			return true
		}
	}
	return false
}

func (s *LeadStore) deleteBySession(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.bySession[sessionID] {
		delete(s.leads, id)
	}
	delete(s.bySession, sessionID)
	delete(s.ownerOf, sessionID)
}
