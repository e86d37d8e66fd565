package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process counters. Period buckets are never expired, so this is meant for
// tests and single-process deployments.
type MemCountStore struct {
	lk       sync.RWMutex
	counts   map[string]int
	distinct map[string]map[string]struct{}

	now func() time.Time
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts:   make(map[string]int),
		distinct: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.counts[periodKey(name, val, period, s.now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	now := s.now()
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range periods {
		s.counts[bucketKey(name, val, p, now)]++
	}
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.distinct[periodKey(name, bucket, period, s.now())]), nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	now := s.now()
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range periods {
		k := bucketKey(name, bucket, p, now)
		set, ok := s.distinct[k]
		if !ok {
			set = make(map[string]struct{})
			s.distinct[k] = set
		}
		set[val] = struct{}{}
	}
	return nil
}
