// Package notify fans session mutations out to observers and sinks, and
// provides the observable-session abstraction that pairs push delivery with
// a fallback poll.
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maximeroux/leadforge/internal/lead"
)

// Event captures one applied session mutation.
type Event struct {
	// Session is the post-mutation snapshot.
	Session lead.Session
	// At is when the hub accepted the event.
	At time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Session.ID == uuid.Nil {
		return errors.New("session id is required")
	}
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
