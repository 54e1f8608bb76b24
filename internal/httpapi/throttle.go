package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a per-remote-address token-bucket rate limit in front
// of an HTTP handler; the server wraps only the /ws route with it, gating
// WebSocket upgrade attempts before they reach the protocol-level auth lockout inside
// gateway.State. A bucket per key with periodic eviction of stale keys,
// the same shape as the teacher's gateway.RateLimiter.
type Throttle struct {
	limiters sync.Map // key -> *throttleEntry
	r        rate.Limit
	burst    int
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows rpm requests per minute per key, with bursts up to
// burst. rpm <= 0 disables throttling entirely.
func NewThrottle(rpm, burst int) *Throttle {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	t := &Throttle{r: r, burst: burst}
	go t.cleanupLoop()
	return t
}

// Wrap returns next gated by the per-address limit; a throttled request
// gets 429 instead of reaching next.
func (t *Throttle) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (t *Throttle) allow(key string) bool {
	if t.r == 0 {
		return true
	}
	entry := t.getOrCreate(key)
	if !entry.limiter.Allow() {
		slog.Warn("httpapi.throttled", "key", key)
		return false
	}
	entry.lastSeen = time.Now()
	return true
}

func (t *Throttle) getOrCreate(key string) *throttleEntry {
	if v, ok := t.limiters.Load(key); ok {
		return v.(*throttleEntry)
	}
	entry := &throttleEntry{limiter: rate.NewLimiter(t.r, t.burst), lastSeen: time.Now()}
	actual, _ := t.limiters.LoadOrStore(key, entry)
	return actual.(*throttleEntry)
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		t.cleanup()
	}
}

func (t *Throttle) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	t.limiters.Range(func(key, value any) bool {
		entry := value.(*throttleEntry)
		if entry.lastSeen.Before(cutoff) {
			t.limiters.Delete(key)
		}
		return true
	})
}
