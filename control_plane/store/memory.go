package store

import (
	"context"
	"sort"
	"sync"

	"github.com/itskum47/tierroute/control_plane/task"
)

// MemoryStore holds task history in process memory.
// It implements the History interface.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]task.Record
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]task.Record),
	}
}

func (s *MemoryStore) Record(ctx context.Context, rec task.Record) error {
	if rec.TaskID == "" {
		return ErrMissingTaskID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TaskID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil, nil
	}
	// Return copy
	return &rec, nil
}

func (s *MemoryStore) Query(ctx context.Context, limit int, class *task.Class) ([]task.Record, error) {
	s.mu.RLock()
	result := make([]task.Record, 0, len(s.records))
	for _, rec := range s.records {
		if class != nil && rec.Decision.Class != *class {
			continue
		}
		result = append(result, rec)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].TaskID > result[j].TaskID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Statistics(ctx context.Context) (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups [task.NumClasses]classAggregate
	for _, rec := range s.records {
		c := rec.Decision.Class
		if !c.Valid() {
			continue
		}
		g := &groups[c]
		g.class = c
		g.count++
		if rec.Result.Succeeded() {
			g.successful++
		}
		g.sumExec += rec.Result.ExecutionTime
		g.sumCost += rec.Result.Cost
	}
	return buildStatistics(groups[:]), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
