package stream

import (
	"context"
	"sync"
)

// CursorStore checkpoints the last delivered sequence per channel so
// subscriptions resume where they left off. Load returns 0 for channels
// without a checkpoint.
type CursorStore interface {
	Load(ctx context.Context, channel string) (uint64, error)
	Save(ctx context.Context, channel string, seq uint64) error
}

type memoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

// NewMemoryCursorStore keeps cursors in process memory; restarts re-read
// history from the transport.
func NewMemoryCursorStore() CursorStore {
	return &memoryCursorStore{cursors: make(map[string]uint64)}
}

func (s *memoryCursorStore) Load(_ context.Context, channel string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[channel], nil
}

func (s *memoryCursorStore) Save(_ context.Context, channel string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.cursors[channel] {
		s.cursors[channel] = seq
	}
	return nil
}
