package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RateLimitMiddleware throttles requests per caller, identified by
// authenticated package id where available and by source IP otherwise
// (registration and unauthenticated health checks have no package id yet).
type RateLimitMiddleware struct {
	requestsPerSecond int
	burst             int
	limiters          map[string]*tokenBucket
	mu                sync.RWMutex
	cleanupInterval   time.Duration
}

// tokenBucket implements a token bucket rate limiter
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(requestsPerSecond, burst int) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		limiters:          make(map[string]*tokenBucket),
		cleanupInterval:   5 * time.Minute,
	}

	go m.cleanup()

	return m
}

// Handle returns the rate limiting middleware handler
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := m.getClientKey(c)

		limiter := m.getLimiter(key)

		if !limiter.allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests, please try again later",
				},
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}

// getClientKey returns a unique identifier for the client
func (m *RateLimitMiddleware) getClientKey(c *gin.Context) string {
	if packageID, exists := c.Get(ContextKeyPackageID); exists {
		return "pkg:" + packageID.(string)
	}

	ip := c.ClientIP()
	return "ip:" + ip
}

// getLimiter gets or creates a rate limiter for the given key
func (m *RateLimitMiddleware) getLimiter(key string) *tokenBucket {
	m.mu.RLock()
	limiter, exists := m.limiters[key]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[key]; exists {
		return limiter
	}

	limiter = &tokenBucket{
		tokens:     float64(m.burst),
		maxTokens:  float64(m.burst),
		refillRate: float64(m.requestsPerSecond),
		lastRefill: time.Now(),
	}
	m.limiters[key] = limiter

	return limiter
}

// allow checks if a request is allowed
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

// cleanup periodically removes old limiters
func (m *RateLimitMiddleware) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		threshold := time.Now().Add(-m.cleanupInterval)
		for key, limiter := range m.limiters {
			limiter.mu.Lock()
			if limiter.lastRefill.Before(threshold) {
				delete(m.limiters, key)
			}
			limiter.mu.Unlock()
		}
		m.mu.Unlock()
	}
}

// RequestLogger returns a middleware that logs HTTP requests via zerolog.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		requestID, _ := c.Get(ContextKeyRequestID)
		packageID, _ := c.Get(ContextKeyPackageID)

		event.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Str("ip", c.ClientIP()).
			Int64("latency_ms", latency.Milliseconds()).
			Interface("request_id", requestID).
			Interface("package_id", packageID).
			Msg("http request")

		if len(c.Errors) > 0 {
			logger.Warn().Str("errors", c.Errors.String()).Msg("handler reported errors")
		}
	}
}

// ContextKeyRequestID is the context key for request ID
const ContextKeyRequestID = "request_id"

// RequestID returns a middleware that adds a request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// Timeout returns a middleware that limits request processing time
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		done := make(chan struct{})

		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error": gin.H{
					"code":    "TIMEOUT",
					"message": "Request timeout",
				},
			})
		}
	}
}

// Recovery returns a middleware that recovers from panics and reports them
// to Sentry, grounded on the dispatcher's own panic-recovery pattern.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if hub := sentry.CurrentHub(); hub != nil {
			hub.Recover(recovered)
		}

		if err, ok := recovered.(error); ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "An unexpected error occurred",
					"details": err.Error(),
				},
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An unexpected error occurred",
			},
		})
	})
}
