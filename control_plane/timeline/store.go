package timeline

import (
	"sync"
	"time"
)

// Stage is a task lifecycle state.
type Stage string

const (
	StageCreated      Stage = "CREATED"
	StageDecided      Stage = "DECIDED"
	StageDispatched   Stage = "DISPATCHED"
	StageSucceeded    Stage = "SUCCEEDED"
	StageFailed       Stage = "FAILED"
	StageRecorded     Stage = "RECORDED"
	StageRecordFailed Stage = "RECORD_FAILED"
)

type TaskEvent struct {
	TaskID    string            `json:"task_id"`
	Stage     Stage             `json:"stage"`
	Timestamp time.Time         `json:"timestamp"`
	Class     string            `json:"class,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DefaultCapacity is the number of events kept before the oldest are dropped.
const DefaultCapacity = 50000

// Store is a bounded in-memory event log.
type Store struct {
	events   []TaskEvent
	capacity int
	mu       sync.RWMutex
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		events:   make([]TaskEvent, 0, 1024),
		capacity: capacity,
	}
}

func (s *Store) Record(e TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if len(s.events) >= s.capacity {
		// Drop the oldest tenth in one go.
		drop := s.capacity / 10
		if drop == 0 {
			drop = 1
		}
		s.events = append(s.events[:0], s.events[drop:]...)
	}
	s.events = append(s.events, e)
}

func (s *Store) GetEvents(taskID string) []TaskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []TaskEvent
	for _, e := range s.events {
		if e.TaskID == taskID {
			results = append(results, e)
		}
	}
	return results
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
