package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes emails to the log. Used when no mail queue is configured.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a sender that only logs outgoing email.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendEmail logs e at info level and never fails.
func (s *LogSender) SendEmail(_ context.Context, e Email) error {
	s.logger.Info().
		Str("id", e.ID).
		Str("to", e.To).
		Str("subject", e.Subject).
		Str("body", e.Body).
		Msg("email (log sender)")
	return nil
}
