package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPublisherWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisherWith(zerolog.New(&buf))

	require.NoError(t, p.Publish(context.Background(), TopicTaskCompleted, map[string]string{"task_id": "t-1"}))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, TopicTaskCompleted, line["topic"])
	assert.Equal(t, "t-1", line["payload"].(map[string]interface{})["task_id"])
	assert.NotEmpty(t, line["event_id"])
}

func TestLogPublisherRejectsUnencodable(t *testing.T) {
	p := NewLogPublisherWith(zerolog.Nop())
	assert.Error(t, p.Publish(context.Background(), "x", make(chan int)))
}
