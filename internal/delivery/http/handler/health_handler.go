package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/syncd/syncd/internal/core/dispatcher"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	dispatcher  *dispatcher.Dispatcher
	redisClient *redis.Client
	startTime   time.Time
	version     string
}

// NewHealthHandler creates a HealthHandler. redisClient may be nil when
// the daemon is running without the optional pub/sub signal bus.
func NewHealthHandler(d *dispatcher.Dispatcher, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{
		dispatcher:  d,
		redisClient: redisClient,
		startTime:   time.Now(),
		version:     version,
	}
}

// Check represents an individual health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// HandleHealth returns basic liveness status for load balancers.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness reports readiness from a ping of the optional Redis
// signal bus. The dispatcher check only reports whether a dispatcher is
// wired and does not change the result.
func (h *HealthHandler) HandleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	checks["dispatcher"] = h.checkDispatcher()

	if h.redisClient != nil {
		redisCheck := h.checkRedis(ctx)
		checks["redis"] = redisCheck
		if redisCheck.Status != "healthy" {
			allHealthy = false
		}
	}

	checks["goroutines"] = Check{Status: "healthy", Message: goroutineCount()}

	status := "ready"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthStatus{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

func (h *HealthHandler) checkDispatcher() Check {
	if h.dispatcher == nil {
		return Check{Status: "unhealthy", Message: "dispatcher not wired"}
	}
	return Check{Status: "healthy", Message: "running"}
}

func (h *HealthHandler) checkRedis(ctx context.Context) Check {
	start := time.Now()
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return Check{Status: "unhealthy", Message: err.Error(), Latency: time.Since(start).String()}
	}
	return Check{Status: "healthy", Message: "connected", Latency: time.Since(start).String()}
}

func goroutineCount() string {
	return itoa(runtime.NumGoroutine()) + " goroutines"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
