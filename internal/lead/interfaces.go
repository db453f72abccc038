package lead

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals an insert collided with an existing record.
var ErrConflict = errors.New("record already exists")

// Profile holds per-user aggregates surfaced on the dashboard.
type Profile struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name,omitempty"`
	TotalScrapingCount  int        `json:"total_scraping_count"`
	TotalLeadsGenerated int        `json:"total_leads_generated"`
	LastScrapingDate    *time.Time `json:"last_scraping_date,omitempty"`
}

// SessionStore persists sessions and applies guarded transitions.
type SessionStore interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Session, error)
	// Apply mutates the session only while its current status is one of
	// allowedFrom. It returns the resulting session and whether the patch
	// was applied; a guard miss on an existing session is not an error.
	Apply(ctx context.Context, id uuid.UUID, patch SessionPatch, allowedFrom []SessionStatus) (Session, bool, error)
	// FailAllInProgress force-fails every in_progress session owned by the
	// user, stamping completed_at with the given time, and returns how many
	// rows changed.
	FailAllInProgress(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error)
	// Delete removes the session and cascades to its leads.
	Delete(ctx context.Context, id uuid.UUID) error
}

// LeadStore persists scraped leads and user edits to them.
type LeadStore interface {
	// InsertBatch writes new leads. Rows colliding on the per-user natural
	// key are skipped, not errors; the return value counts inserted rows.
	InsertBatch(ctx context.Context, leads []Lead) (int, error)
	// ExistingKeys returns the natural-key set across every session owned
	// by the user.
	ExistingKeys(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Lead, error)
	Get(ctx context.Context, id uuid.UUID) (Lead, error)
	Update(ctx context.Context, id uuid.UUID, patch LeadPatch) (Lead, error)
}

// ProfileStore reads and updates per-user aggregates.
type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (Profile, error)
	// BumpScrapingStats increments the session and lead totals and stamps
	// the last scraping date.
	BumpScrapingStats(ctx context.Context, userID uuid.UUID, leads int, at time.Time) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes session change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
