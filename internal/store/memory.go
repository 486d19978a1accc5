package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps messages in process memory. Timestamps are non-decreasing per
// store even if the clock steps backwards.
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]Record
	nextID   int64
	last     time.Time
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]Record),
		now:      time.Now,
	}
}

func (m *Memory) Append(_ context.Context, room string, author Author, body string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UTC()
	if ts.Before(m.last) {
		ts = m.last
	}
	m.last = ts
	m.nextID++

	rec := Record{
		ID:        m.nextID,
		Room:      room,
		Body:      body,
		Author:    author,
		CreatedAt: ts,
	}
	m.messages[room] = append(m.messages[room], rec)
	return rec, nil
}

func (m *Memory) RecentHistory(_ context.Context, room string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[room]
	if limit <= 0 {
		return []Record{}, nil
	}
	if limit > len(msgs) {
		limit = len(msgs)
	}

	result := make([]Record, 0, limit)
	for i := len(msgs) - 1; i >= len(msgs)-limit; i-- {
		result = append(result, msgs[i])
	}
	return result, nil
}

func (m *Memory) Rooms(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.messages))
	for room := range m.messages {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (m *Memory) Close() error { return nil }
