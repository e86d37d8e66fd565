package kvstore

import (
	"context"
	"sync"
)

type MemStore struct {
	lk   sync.RWMutex
	data map[string]map[string][]byte
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]map[string][]byte),
	}
}

func (s *MemStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	v, ok := s.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (s *MemStore) Put(ctx context.Context, ns, key string, val []byte) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, ok := s.data[ns]
	if !ok {
		m = make(map[string][]byte)
		s.data[ns] = m
	}
	m[key] = copyBytes(val)
	return nil
}

func (s *MemStore) Delete(ctx context.Context, ns, key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data[ns], key)
	return nil
}

func (s *MemStore) List(ctx context.Context, ns string) (map[string][]byte, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	out := make(map[string][]byte, len(s.data[ns]))
	for k, v := range s.data[ns] {
		out[k] = copyBytes(v)
	}
	return out, nil
}

func (s *MemStore) Replace(ctx context.Context, ns string, entries map[string][]byte) error {
	m := make(map[string][]byte, len(entries))
	for k, v := range entries {
		m[k] = copyBytes(v)
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[ns] = m
	return nil
}
