package counter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count     int64
	expiresAt time.Time
}

// Memory — счётчики в памяти процесса для запуска без Redis. Лимит не разделяется
// между экземплярами.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory создаёт счётчики в памяти.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// IncrWithTTL увеличивает счётчик; истёкшее окно начинается заново.
func (m *Memory) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !now.Before(e.expiresAt)) {
		e = entry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.count++
	m.entries[key] = e

	if len(m.entries) > 10000 {
		m.sweep(now)
	}
	return e.count, nil
}

func (m *Memory) sweep(now time.Time) {
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// Ping всегда успешен.
func (m *Memory) Ping(context.Context) error { return nil }

// Close ничего не делает.
func (m *Memory) Close() error { return nil }
