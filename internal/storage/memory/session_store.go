// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maximeroux/leadforge/internal/lead"
)

// SessionStore keeps sessions in a mutex-guarded map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]lead.Session
	leads    *LeadStore
}

// NewSessionStore constructs a SessionStore. When a LeadStore is supplied,
// Delete cascades to the session's leads.
func NewSessionStore(leads *LeadStore) *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]lead.Session),
		leads:    leads,
	}
}

// Create stores a new session.
func (s *SessionStore) Create(_ context.Context, sess lead.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return lead.ErrConflict
	}
	s.sessions[sess.ID] = sess
	if s.leads != nil {
		s.leads.BindSession(sess.ID, sess.UserID)
	}
	return nil
}

// Get fetches a session by ID.
func (s *SessionStore) Get(_ context.Context, id uuid.UUID) (lead.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return lead.Session{}, lead.ErrNotFound
	}
	return sess, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *SessionStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]lead.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []lead.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sortSessionsByCreated(out)
	return page(out, limit, offset), nil
}

// Apply mutates the session only while its status is one of allowedFrom.
func (s *SessionStore) Apply(
	_ context.Context,
	id uuid.UUID,
	patch lead.SessionPatch,
	allowedFrom []lead.SessionStatus,
) (lead.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return lead.Session{}, false, lead.ErrNotFound
	}
	if !statusAllowed(sess.Status, allowedFrom) {
		return sess, false, nil
	}
	applyPatch(&sess, patch)
	s.sessions[id] = sess
	return sess, true, nil
}

// FailAllInProgress force-fails every in_progress session owned by the user.
func (s *SessionStore) FailAllInProgress(_ context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for id, sess := range s.sessions {
		if sess.UserID != userID || sess.Status != lead.StatusInProgress {
			continue
		}
		sess.Status = lead.StatusFailed
		sess.ErrorMessage = reason
		sess.CompletedAt = pointerTime(at)
		s.sessions[id] = sess
		changed++
	}
	return changed, nil
}

// Delete removes the session and cascades to its leads.
func (s *SessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return lead.ErrNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.leads != nil {
		s.leads.deleteBySession(id)
	}
	return nil
}

func statusAllowed(cur lead.SessionStatus, allowed []lead.SessionStatus) bool {
	for _, a := range allowed {
		if cur == a {
			return true
		}
	}
	return false
}

func applyPatch(sess *lead.Session, patch lead.SessionPatch) {
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.ProgressPercentage != nil && *patch.ProgressPercentage > sess.ProgressPercentage {
		sess.ProgressPercentage = *patch.ProgressPercentage
	}
	if patch.CurrentStep != nil {
		sess.CurrentStep = *patch.CurrentStep
	}
	if patch.ActualResults != nil && *patch.ActualResults > sess.ActualResults {
		sess.ActualResults = *patch.ActualResults
	}
	if patch.EmailsFound != nil && *patch.EmailsFound > sess.EmailsFound {
		sess.EmailsFound = *patch.EmailsFound
	}
	if patch.ErrorMessage != nil {
		sess.ErrorMessage = *patch.ErrorMessage
	}
	if patch.SheetURL != nil && *patch.SheetURL != "" {
		sess.SheetURL = *patch.SheetURL
	}
	if patch.SheetName != nil && *patch.SheetName != "" {
		sess.SheetName = *patch.SheetName
	}
	if patch.SnapshotURI != nil && *patch.SnapshotURI != "" {
		sess.SnapshotURI = *patch.SnapshotURI
	}
	if patch.StartedAt != nil && sess.StartedAt == nil {
		sess.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil && sess.CompletedAt == nil {
		sess.CompletedAt = patch.CompletedAt
	}
}

func sortSessionsByCreated(sessions []lead.Session) {
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].CreatedAt.After(sessions[j-1].CreatedAt); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
