package abuse

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CounterStore is the increment-and-check contract behind the rate limiter:
// bump the counter for key within the current fixed window and return the
// count so far. Implementations choose where the counters live.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter is a soft fixed-window rate limiter keyed by (route, client IP).
// Counter-store failures fail open: this is an abuse damper, not a
// correctness mechanism.
type Limiter struct {
	store  CounterStore
	max    int64
	window time.Duration
	log    *slog.Logger
}

// NewLimiter returns nil when max is not positive (limiting disabled).
func NewLimiter(store CounterStore, max int, window time.Duration, log *slog.Logger) *Limiter {
	if max <= 0 {
		return nil
	}
	return &Limiter{store: store, max: int64(max), window: window, log: log}
}

// Allow reports whether the request fits inside the window's budget.
func (l *Limiter) Allow(ctx context.Context, route, clientIP string) bool {
	if l == nil {
		return true
	}
	count, err := l.store.Incr(ctx, route+"|"+clientIP, l.window)
	if err != nil {
		l.log.Warn("rate limit counter unavailable", "route", route, "err", err)
		return true
	}
	return count <= l.max
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore keeps fixed-window counters in process memory. Fits
// single-instance deployments; counters are best-effort and vanish on
// restart.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

// NewMemoryCounterStore returns an empty in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	// Opportunistic sweep so long-lived processes don't accumulate dead
	// windows from one-off client IPs.
	if len(s.windows) > 4096 {
		for k, old := range s.windows {
			if now.After(old.resetAt) {
				delete(s.windows, k)
			}
		}
	}
	return w.count, nil
}
