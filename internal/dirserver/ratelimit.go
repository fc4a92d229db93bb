// internal/dirserver/ratelimit.go
package dirserver

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// limiter is a fixed-window counter keyed by caller. The windows mirror the
// published per-operation-class limits the client's cooldowns are tuned to.
type limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string]*windowEntry
	now    func() time.Time
}

type windowEntry struct {
	count int
	reset time.Time
}

func newLimiter(max int, window time.Duration) *limiter {
	return &limiter{
		max:    max,
		window: window,
		hits:   make(map[string]*windowEntry),
		now:    time.Now,
	}
}

// allow counts one call for key, reporting whether it fits the window.
func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.hits[key]
	if !ok || now.After(entry.reset) {
		l.hits[key] = &windowEntry{count: 1, reset: now.Add(l.window)}
		return true
	}
	entry.count++
	return entry.count <= l.max
}

// clientKey buckets callers by address, ignoring the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
