package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/syncd/syncd/internal/delivery/http/handler"
	"github.com/syncd/syncd/internal/delivery/http/middleware"
	"github.com/syncd/syncd/pkg/metrics"
)

// Config holds router configuration
type Config struct {
	Mode           string   // "debug", "release", "test"
	AllowedOrigins []string // CORS allowed origins
	RateLimitRPS   int      // Requests per second
	RateLimitBurst int
}

// DefaultConfig returns default router configuration
func DefaultConfig() *Config {
	return &Config{
		Mode:           gin.ReleaseMode,
		AllowedOrigins: []string{"*"},
		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}
}

// Router wraps gin.Engine with the daemon's facade handlers and middleware.
type Router struct {
	engine *gin.Engine
	config *Config
	logger zerolog.Logger

	syncHandler   *handler.SyncHandler
	healthHandler *handler.HealthHandler

	authMiddleware      *middleware.AuthMiddleware
	rateLimitMiddleware *middleware.RateLimitMiddleware
	inputValidator      *middleware.InputValidator
}

// NewRouter creates a new Router.
func NewRouter(
	config *Config,
	syncHandler *handler.SyncHandler,
	healthHandler *handler.HealthHandler,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	logger zerolog.Logger,
) *Router {
	if config == nil {
		config = DefaultConfig()
	}

	return &Router{
		engine:              gin.New(),
		config:              config,
		logger:              logger,
		syncHandler:         syncHandler,
		healthHandler:       healthHandler,
		authMiddleware:      authMiddleware,
		rateLimitMiddleware: rateLimitMiddleware,
		inputValidator:      middleware.NewInputValidator(),
	}
}

// Setup wires the global middleware chain and every route group, returning
// the underlying gin.Engine.
func (r *Router) Setup() *gin.Engine {
	gin.SetMode(r.config.Mode)

	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.RequestLogger(r.logger))
	r.engine.Use(r.corsMiddleware())
	r.engine.Use(middleware.SecureHeaders())
	r.engine.Use(r.inputValidator.ValidateRequest())
	r.engine.Use(metrics.GinMiddleware())

	r.engine.GET("/health", r.healthHandler.HandleHealth)
	r.engine.GET("/ready", r.healthHandler.HandleReadiness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")
	var rateLimit []gin.HandlerFunc
	if r.rateLimitMiddleware != nil {
		rateLimit = append(rateLimit, r.rateLimitMiddleware.Handle())
	}

	// Adapter registration is itself how a package proves its identity to
	// the daemon, so it sits outside the authenticated group.
	api.POST("/adapters", append(rateLimit, r.syncHandler.RegisterAdapter)...)

	// Rate limiting runs after authentication here, so callers are keyed
	// by their package id rather than their source IP.
	protected := api.Group("")
	protected.Use(r.authMiddleware.Authenticate())
	protected.Use(rateLimit...)
	{
		protected.POST("/jobs/on-demand", r.syncHandler.AddOnDemandJob)
		protected.POST("/jobs/periodic", r.syncHandler.AddPeriodicJob)
		protected.POST("/jobs/data-change", r.syncHandler.AddDataChangeJob)
		protected.DELETE("/jobs", r.syncHandler.RemoveJob)
		protected.GET("/jobs", r.syncHandler.GetJobs)

		protected.POST("/sync-status", r.syncHandler.SetSyncStatus)
		protected.POST("/data-changed", r.syncHandler.NotifyDataChanged)
		protected.POST("/packages/:packageID/uninstalled", r.syncHandler.NotifyPackageUninstalled)
		protected.POST("/results", r.syncHandler.ReportResult)

		protected.GET("/activity/recent", r.syncHandler.RecentActivity)
		protected.GET("/activity/stream", r.syncHandler.StreamActivity)
	}

	return r.engine
}

// corsMiddleware builds the CORS configuration for the router.
func (r *Router) corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     r.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// Engine returns the underlying gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server on addr.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
