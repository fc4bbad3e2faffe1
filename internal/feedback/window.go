package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window decides whether a message key may be shown again.
type Window interface {
	Allow(ctx context.Context, key string) bool
}

// MemoryWindow remembers when each key was last shown.
type MemoryWindow struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryWindow creates a window of the given width.
func NewMemoryWindow(window time.Duration) *MemoryWindow {
	return &MemoryWindow{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Allow reports true and records key when it was not seen within the window.
func (w *MemoryWindow) Allow(_ context.Context, key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if last, ok := w.seen[key]; ok && now.Sub(last) < w.window {
		return false
	}
	w.seen[key] = now
	w.evictLocked(now)
	return true
}

// Evict drops keys older than the window and returns how many were removed.
func (w *MemoryWindow) Evict(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evictLocked(now)
}

// Len is the number of tracked keys.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *MemoryWindow) evictLocked(now time.Time) int {
	removed := 0
	for k, t := range w.seen {
		if now.Sub(t) >= w.window {
			delete(w.seen, k)
			removed++
		}
	}
	return removed
}

// RedisWindow shares the window between station processes with SET NX PX.
type RedisWindow struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisWindow creates a Redis backed window.
func NewRedisWindow(client *redis.Client, prefix string, window time.Duration) *RedisWindow {
	if prefix == "" {
		prefix = "qrattend:feedback:"
	}
	return &RedisWindow{client: client, prefix: prefix, window: window}
}

// Allow implements Window. Redis errors fail open so feedback is never lost.
func (w *RedisWindow) Allow(ctx context.Context, key string) bool {
	ok, err := w.client.SetNX(ctx, w.prefix+key, 1, w.window).Result()
	if err != nil {
		return true
	}
	return ok
}
