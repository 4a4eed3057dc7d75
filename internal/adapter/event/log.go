package event

import (
	"context"
	"encoding/json"

	"payment-settlement-core/internal/core/domain"

	"github.com/rs/zerolog"
)

// LogSink implements ports.EventSink by writing events to the structured log.
// It is the default sink for deployments without a broker.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-backed event sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish logs each event at info level.
func (s *LogSink) Publish(_ context.Context, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("event_id", e.EventID().String()).
			Str("event_name", e.EventName()).
			RawJSON("payload", payload).
			Msg("domain event")
	}
	return nil
}
