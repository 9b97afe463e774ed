package toast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store. Entries are evicted when they expire.
type Memory struct {
	mu     sync.Mutex
	toasts map[string]map[string]Toast
	timers map[string]*time.Timer
}

func NewMemory() *Memory {
	return &Memory{
		toasts: make(map[string]map[string]Toast),
		timers: make(map[string]*time.Timer),
	}
}

func (m *Memory) Add(_ context.Context, t Toast) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.toasts[t.UserID] == nil {
		m.toasts[t.UserID] = make(map[string]Toast)
	}
	m.toasts[t.UserID][t.ID] = t
	m.timers[t.ID] = time.AfterFunc(time.Until(t.ExpiresAt), func() {
		m.evict(t.UserID, t.ID)
	})
	return nil
}

func (m *Memory) Remove(_ context.Context, userID, id string) error {
	if !m.evict(userID, id) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *Memory) List(_ context.Context, userID string) ([]Toast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Toast, 0, len(m.toasts[userID]))
	for _, t := range m.toasts[userID] {
		if now.Before(t.ExpiresAt) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) evict(userID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
	if _, ok := m.toasts[userID][id]; !ok {
		return false
	}
	delete(m.toasts[userID], id)
	if len(m.toasts[userID]) == 0 {
		delete(m.toasts, userID)
	}
	return true
}
