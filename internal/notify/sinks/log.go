package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/notify"
)

// LogSink emits structured logs for session changes. It is useful during
// development or audits where no downstream consumer is wired.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each change in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.logger.Info("session changed",
			zap.String("session_id", evt.Session.ID.String()),
			zap.String("user_id", evt.Session.UserID.String()),
			zap.String("status", string(evt.Session.Status)),
			zap.Int("progress", evt.Session.ProgressPercentage),
			zap.Int("results", evt.Session.ActualResults),
			zap.Int("emails_found", evt.Session.EmailsFound),
			zap.Time("at", evt.At),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
