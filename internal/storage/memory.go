package storage

import (
	"context"
	"sync"

	"maintd/internal/schedule"
)

// Memory keeps records in process memory.
type Memory struct {
	mu     sync.Mutex
	recs   map[string]schedule.Record
	closed bool
}

func NewMemory() *Memory { return &Memory{recs: map[string]schedule.Record{}} }

func (m *Memory) Load(ctx context.Context) ([]schedule.Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]schedule.Record, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, r schedule.Record) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.recs[r.Key()] = r.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.recs, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
