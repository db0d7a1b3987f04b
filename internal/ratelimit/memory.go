package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type window struct {
	count int
	reset time.Time
}

// Memory is a process-local Counter. Closed windows are dropped lazily
// while hits are recorded.
type Memory struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	nextSweep time.Time
}

// NewMemory returns an empty Memory counter. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{windows: make(map[string]*window), now: now}
}

func (m *Memory) Hit(_ context.Context, key string, length time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		for k, w := range m.windows {
			if now.After(w.reset) {
				delete(m.windows, k)
			}
		}
		m.nextSweep = now.Add(sweepInterval)
	}

	w, ok := m.windows[key]
	if !ok || now.After(w.reset) {
		w = &window{reset: now.Add(length)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.reset, nil
}

// Len reports how many windows are held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
