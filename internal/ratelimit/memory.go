package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count    int64
	resetsAt time.Time
}

// MemoryLimiter — локальный счётчик попыток для memory-профиля хранилища
// и тестов. Не разделяется между инстансами сервиса.
type MemoryLimiter struct {
	mu          sync.Mutex
	windows     map[string]window
	maxAttempts int64
	duration    time.Duration

	now func() time.Time
}

// NewMemoryLimiter создаёт локальный лимитер с теми же параметрами, что и Redis-вариант.
func NewMemoryLimiter(maxAttempts int64, duration time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows:     make(map[string]window),
		maxAttempts: maxAttempts,
		duration:    duration,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Allow регистрирует попытку и сообщает, не превышен ли лимит.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetsAt) {
		w = window{resetsAt: now.Add(l.duration)}
	}
	w.count++
	l.windows[key] = w

	// Попутно подчищаем истёкшие окна, чтобы карта не росла бесконечно.
	if len(l.windows) > 1024 {
		for k, v := range l.windows {
			if now.After(v.resetsAt) {
				delete(l.windows, k)
			}
		}
	}

	return w.count <= l.maxAttempts, nil
}
