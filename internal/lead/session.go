// Package lead defines core types shared across subsystems.
package lead

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a scraping session.
type SessionStatus string

// Session status values persisted in the session store.
const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Rank orders statuses for stale-transition rejection. Both terminal
// statuses share the highest rank so neither can displace the other.
func (s SessionStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status permits no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SearchParams captures the user-configured scraping request.
type SearchParams struct {
	GoogleMapsURL     string `json:"google_maps_url"`
	Sector            string `json:"sector"`
	Location          string `json:"location,omitempty"`
	LimitResults      int    `json:"limit_results"`
	EmailNotification string `json:"email_notification,omitempty"`
	NewFile           bool   `json:"new_file"`
	FileName          string `json:"file_name,omitempty"`
	SheetName         string `json:"sheet_name,omitempty"`
	FileURL           string `json:"file_url,omitempty"`
}

// Session is the metadata persisted for one scraping request and its lifecycle.
type Session struct {
	ID                 uuid.UUID     `json:"id"`
	UserID             uuid.UUID     `json:"user_id"`
	Params             SearchParams  `json:"params"`
	Status             SessionStatus `json:"status"`
	ProgressPercentage int           `json:"progress_percentage"`
	CurrentStep        string        `json:"current_step,omitempty"`
	ActualResults      int           `json:"actual_results"`
	EmailsFound        int           `json:"emails_found"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	SheetURL           string        `json:"sheet_url,omitempty"`
	SheetName          string        `json:"sheet_name,omitempty"`
	SnapshotURI        string        `json:"snapshot_uri,omitempty"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// SessionPatch describes a guarded mutation to a session. Nil fields leave
// the stored value untouched; counters apply monotonically (stores keep the
// maximum of old and new).
type SessionPatch struct {
	Status             *SessionStatus
	ProgressPercentage *int
	CurrentStep        *string
	ActualResults      *int
	EmailsFound        *int
	ErrorMessage       *string
	SheetURL           *string
	SheetName          *string
	SnapshotURI        *string
	StartedAt          *time.Time
	CompletedAt        *time.Time
}
