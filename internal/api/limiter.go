package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneAbove = 4096
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// senderLimiter 为每个发送者维护一个令牌桶。
type senderLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	now     func() time.Time
}

func newSenderLimiter(perMinute, burst int) *senderLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &senderLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow 判断发送者当前是否可以继续发送消息。
func (l *senderLimiter) Allow(sender string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) >= limiterPruneAbove {
		for key, entry := range l.entries {
			if now.Sub(entry.seen) > limiterIdleTTL {
				delete(l.entries, key)
			}
		}
	}
	entry, ok := l.entries[sender]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[sender] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}
