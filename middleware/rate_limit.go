package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RateLimiter counts requests per key in fixed windows
type RateLimiter struct {
	mu        sync.Mutex
	tokens    map[string]int
	lastReset time.Time
	rate      int           // requests per window
	window    time.Duration // time window
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:    make(map[string]int),
		lastReset: time.Now(),
		rate:      rate,
		window:    window,
		now:       time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// limit. The second result is the time left in the current window.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastReset) > l.window {
		l.tokens = make(map[string]int)
		l.lastReset = now
	}

	remaining := l.window - now.Sub(l.lastReset)
	if l.tokens[key] >= l.rate {
		return false, remaining
	}
	l.tokens[key]++
	return true, remaining
}

// ClientKey identifies the caller for rate limiting: the authenticated user
// when known, the client IP otherwise
func ClientKey(c *gin.Context) string {
	if id := GetUserID(c); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimit middleware limits requests per caller
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		key := ClientKey(c)

		ok, retryIn := limiter.Allow(key)
		if !ok {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "key", key)

			c.Header("Retry-After", strconv.Itoa(int(retryIn.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
