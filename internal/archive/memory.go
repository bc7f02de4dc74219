// SPDX-License-Identifier: MIT
package archive

import (
	"context"
	"slices"
	"sync"
)

// Memory is a Store that lives for the life of the process.
type Memory struct {
	mu       sync.Mutex
	entries  []Entry // Newest first.
	capacity int
	closed   bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	i, _ := slices.BinarySearchFunc(m.entries, e, func(have, want Entry) int {
		// Descending by timestamp; the later save wins a tie.
		if have.Timestamp.After(want.Timestamp) {
			return -1
		}
		return 1
	})
	m.entries = slices.Insert(m.entries, i, e)
	if len(m.entries) > m.capacity {
		m.entries = m.entries[:m.capacity]
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.entries), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = nil
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

var _ Store = (*Memory)(nil)
