package audit

import (
	"context"
	"sync"
)

// MemoryLog is a bounded in-process sink. It backs the audit read API
// when no external sink is configured; the oldest entries fall off once
// capacity is reached.
type MemoryLog struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryLog{capacity: capacity}
}

func (l *MemoryLog) Write(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
