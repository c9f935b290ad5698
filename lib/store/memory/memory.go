// Package memory implements the key/value store in process memory. Data does not survive the process.
package memory

import (
	"context"
	"sync"

	"github.com/tarancss/walletlink/lib/store"
)

// Memory is a map guarded by a mutex.
type Memory struct {
	mu     sync.RWMutex
	m      map[string][]byte
	closed bool
}

// New returns an empty store.
func New() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

var _ store.KV = (*Memory)(nil)

// Get returns a copy of the value stored at key.
func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	v, ok := s.m[key]
	if !ok {
		return nil, store.ErrDataNotFound
	}

	return append([]byte(nil), v...), nil
}

// Put stores a copy of value at key.
func (s *Memory) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	s.m[key] = append([]byte(nil), value...)

	return nil
}

// Delete removes key.
func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	delete(s.m, key)

	return nil
}

// Close makes every further call fail with store.ErrClosed.
func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return nil
}
