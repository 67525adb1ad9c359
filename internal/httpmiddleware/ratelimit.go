package httpmiddleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"focusattend/internal/clock"
)

// SimpleTokenBucket is an in-memory per-IP rate limiter; for prod swap to
// Redis.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	clock    clock.Clock
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   int64
}

// NewSimpleTokenBucket creates a limiter with capacity tokens and a
// per-minute refill rate.
func NewSimpleTokenBucket(capacity, perMinute int, c clock.Clock) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		clock:    c,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware returns a gin handler enforcing per-IP limits.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.clock.Now().UnixMilli()
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsedMinutes := float64(now-b.last) / 60000.0
	refill := int(elapsedMinutes * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
