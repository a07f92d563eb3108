package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// TopicTaskCompleted carries a task record once it has been persisted.
const TopicTaskCompleted = "task.completed"

type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
