// Package idempotency replays the response of a submission retried with the
// same idempotency key.
package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Response is a captured HTTP response.
type Response struct {
	StatusCode int                 `json:"status_code"`
	Body       []byte              `json:"body"`
	Headers    map[string][]string `json:"headers,omitempty"`
}

const (
	// ResultTTL is how long a completed response is replayed.
	ResultTTL = 24 * time.Hour
	// DefaultLockTTL bounds how long an in-progress key blocks duplicates.
	DefaultLockTTL = 2 * time.Minute

	sweepInterval = time.Minute
)

// Store is the two-phase idempotency state: a key is LOCKED while its request
// runs and holds a RESULT afterwards.
type Store interface {
	// Get returns the stored result, if any.
	Get(ctx context.Context, key string) (*Response, error)
	// Lock claims the key. It returns false when another request holds it.
	Lock(ctx context.Context, key string) (bool, error)
	// Complete stores the result and releases the lock.
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops the lock without storing a result.
	Release(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store. Expired results and locks are swept
// at most once per sweepInterval from Lock and Complete.
type MemoryStore struct {
	results   sync.Map // key -> *entry
	locks     sync.Map // key -> time.Time
	lockTTL   time.Duration
	now       func() time.Time
	lastSweep atomic.Int64 // unix nanos
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewMemoryStore(lockTTL time.Duration) *MemoryStore {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	s := &MemoryStore{lockTTL: lockTTL, now: time.Now}
	s.lastSweep.Store(s.now().UnixNano())
	return s
}

// sweep drops expired entries. Concurrent callers race on lastSweep and only
// the winner walks the maps.
func (s *MemoryStore) sweep(now time.Time) {
	last := s.lastSweep.Load()
	if now.Sub(time.Unix(0, last)) < sweepInterval || !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	s.results.Range(func(k, v any) bool {
		if now.Sub(v.(*entry).timestamp) > ResultTTL {
			s.results.CompareAndDelete(k, v)
		}
		return true
	})
	s.locks.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) > s.lockTTL {
			s.locks.CompareAndDelete(k, v)
		}
		return true
	})
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, error) {
	val, ok := s.results.Load(key)
	if !ok {
		return nil, nil
	}
	e := val.(*entry)
	if s.now().Sub(e.timestamp) > ResultTTL {
		s.results.Delete(key)
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (s *MemoryStore) Lock(_ context.Context, key string) (bool, error) {
	now := s.now()
	s.sweep(now)
	for {
		prev, loaded := s.locks.LoadOrStore(key, now)
		if !loaded {
			return true, nil
		}
		// Expired locks are taken over.
		if now.Sub(prev.(time.Time)) <= s.lockTTL {
			return false, nil
		}
		if s.locks.CompareAndSwap(key, prev, now) {
			return true, nil
		}
	}
}

func (s *MemoryStore) Complete(_ context.Context, key string, resp Response) error {
	now := s.now()
	s.sweep(now)
	s.results.Store(key, &entry{resp: resp, timestamp: now})
	s.locks.Delete(key)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.locks.Delete(key)
	return nil
}
