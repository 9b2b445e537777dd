package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. Namespaces share one lock.
type Memory struct {
	mu     sync.Mutex
	data   map[string]map[string]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Namespace(name string) Store {
	return &memoryStore{m: m, ns: name}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of keys held in a namespace.
func (m *Memory) Len(ns string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[ns])
}

type memoryStore struct {
	m  *Memory
	ns string
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.closed {
		return "", false, ErrClosed
	}
	v, ok := s.m.data[s.ns][key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.closed {
		return ErrClosed
	}
	bucket := s.m.data[s.ns]
	if bucket == nil {
		bucket = make(map[string]string)
		s.m.data[s.ns] = bucket
	}
	bucket[key] = value
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.closed {
		return ErrClosed
	}
	delete(s.m.data[s.ns], key)
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.closed {
		return ErrClosed
	}
	delete(s.m.data, s.ns)
	return nil
}
