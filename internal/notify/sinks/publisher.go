package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/notify"
)

// changeMessage is the wire form published for each session change.
type changeMessage struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress_percentage"`
	Results      int       `json:"actual_results"`
	EmailsFound  int       `json:"emails_found"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// PublisherSink forwards session changes to a message topic so external
// consumers (email notifiers, dashboards) can react without polling.
type PublisherSink struct {
	publisher lead.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for the given topic.
func NewPublisherSink(publisher lead.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes each change in the batch. The first publish error aborts
// the batch; the hub logs and continues, so delivery is at-most-once.
func (s *PublisherSink) Consume(ctx context.Context, batch []notify.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		msg := changeMessage{
			SessionID:    evt.Session.ID.String(),
			UserID:       evt.Session.UserID.String(),
			Status:       string(evt.Session.Status),
			Progress:     evt.Session.ProgressPercentage,
			Results:      evt.Session.ActualResults,
			EmailsFound:  evt.Session.EmailsFound,
			ErrorMessage: evt.Session.ErrorMessage,
			At:           evt.At,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish session change: %w", err)
		}
		s.logger.Debug("session change published",
			zap.String("session_id", msg.SessionID),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
