package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		logger: log.With().Str("component", "streaming").Logger(),
	}
}

// NewLogPublisherWith uses the given logger instead of the global one.
func NewLogPublisherWith(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    "tierroute",
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("topic", topic).
		RawJSON("payload", event.Payload).
		Msg("publish")
	return nil
}

func (p *LogPublisher) Close() error {
	p.logger.Info().Msg("closed LogPublisher")
	return nil
}
