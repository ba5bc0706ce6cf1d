// Command syncd runs the sync scheduler daemon: the dispatcher event loop,
// its signal producers, and the HTTP facade adapters and operator tools
// call.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/syncd/syncd/config"
	"github.com/syncd/syncd/internal/core/activity"
	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/constraint"
	"github.com/syncd/syncd/internal/core/dispatcher"
	"github.com/syncd/syncd/internal/core/facade"
	"github.com/syncd/syncd/internal/core/repository"
	"github.com/syncd/syncd/internal/core/repository/filestore"
	"github.com/syncd/syncd/internal/core/repository/pgstore"
	"github.com/syncd/syncd/internal/delivery/http/handler"
	"github.com/syncd/syncd/internal/delivery/http/middleware"
	"github.com/syncd/syncd/internal/delivery/http/router"
	"github.com/syncd/syncd/internal/signals"
	"github.com/syncd/syncd/internal/signals/redisbus"
	"github.com/syncd/syncd/pkg/errortracker"
	"github.com/syncd/syncd/pkg/httpclient"
	"github.com/syncd/syncd/pkg/jwt"
	"github.com/syncd/syncd/pkg/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load configuration: " + err.Error())
	}

	log := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		AppName:    cfg.App.Name,
		AppVersion: Version,
		Env:        cfg.App.Env,
	})
	zl := log.Zerolog()

	zl.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting syncd")

	tracker, err := errortracker.Init(errortracker.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.App.Env,
		Release:     Version,
		ServerName:  cfg.App.Name,
	})
	if err != nil {
		zl.Error().Err(err).Msg("sentry init failed, continuing without error tracking")
	}
	if tracker != nil {
		defer errortracker.Close()
	}

	store, err := openStore(cfg)
	if err != nil {
		zl.Fatal().Err(err).Msg("open repository store")
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	clk := clock.NewSystem()
	oracle := constraint.New(constraint.NewMapSettings())
	feed := activity.NewFeed(200)

	metrics := dispatcher.NewMetrics(prometheus.DefaultRegisterer)

	adapterClient := facade.NewHTTPAdapterClient(newAdapterHTTPClient(cfg))

	d := dispatcher.New(
		dispatcher.Config{
			HeartbeatCronSchedule: cfg.Dispatcher.HeartbeatCronSchedule,
			WatchdogTimeout:       cfg.Dispatcher.WatchdogTimeout,
			MaxConcurrentJobs:     cfg.Dispatcher.MaxConcurrentJobs,
			GlobalRateLimit:       rate.Limit(cfg.Dispatcher.MaxConcurrentJobs),
			GlobalRateBurst:       cfg.Dispatcher.MaxConcurrentJobs,
			IdleShutdownAfter:     cfg.Dispatcher.IdleShutdownAfter,
			RandomOffsetMillis:    cfg.Dispatcher.RandomOffsetSeconds * 1000,
		},
		clk, store, adapterClient, oracle, feed, metrics, zl,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Hydrate(ctx); err != nil {
		zl.Fatal().Err(err).Msg("hydrate dispatcher state")
	}

	go d.Run()

	f := facade.New(d)

	poller := signals.NewPoller(oracle, f, nil, nil, nil, 15*time.Second, zl)
	go poller.Run(ctx)

	bus := redisbus.New(redisClient, zl)
	if cfg.Redis.Enabled {
		go bus.Subscribe(ctx, f)
	}

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TokenTTL)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	rps := cfg.RateLimit.Requests
	if cfg.RateLimit.Window > 0 {
		rps = int(float64(cfg.RateLimit.Requests) / cfg.RateLimit.Window.Seconds())
		if rps <= 0 {
			rps = 1
		}
	}
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rps, cfg.RateLimit.Requests)

	syncHandler := handler.NewSyncHandler(f, feed, bus)
	healthHandler := handler.NewHealthHandler(d, redisClient, Version)

	routerCfg := router.DefaultConfig()
	if !cfg.App.Debug {
		routerCfg.Mode = "release"
	} else {
		routerCfg.Mode = "debug"
	}

	r := router.NewRouter(routerCfg, syncHandler, healthHandler, authMiddleware, rateLimitMiddleware, zl)
	engine := r.Setup()

	addr := ":" + itoa(cfg.App.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		zl.Info().Str("addr", addr).Msg("facade HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal().Err(err).Msg("facade HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info().Msg("shutting down syncd")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error().Err(err).Msg("HTTP server shutdown error")
	}
	d.Shutdown()

	zl.Info().Msg("syncd exited")
}

func newAdapterHTTPClient(cfg *config.Config) *httpclient.Client {
	c := httpclient.DefaultConfig()
	c.Timeout = cfg.HTTP.Timeout
	c.MaxRetries = cfg.HTTP.MaxRetries
	c.RetryWaitMin = cfg.HTTP.RetryWaitMin
	c.RetryWaitMax = cfg.HTTP.RetryWaitMax
	return httpclient.NewClient(c)
}

func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.App.RepositoryDSN != "" {
		return pgstore.Open(cfg.App.RepositoryDSN)
	}
	return filestore.Open(cfg.App.StoreDir)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}
