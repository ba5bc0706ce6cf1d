package config

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all daemon configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Dispatcher DispatcherConfig
	Backoff    BackoffConfig
	Log        LogConfig
	RateLimit  RateLimitConfig
	HTTP       HTTPClientConfig
	Sentry     SentryConfig
}

// SentryConfig holds optional error-tracking configuration. An empty DSN
// disables Sentry entirely.
type SentryConfig struct {
	DSN string
}

// AppConfig holds daemon-level configuration
type AppConfig struct {
	Name          string
	Env           string
	Port          int
	Debug         bool
	StoreDir      string // directory backing the JSON repository
	RepositoryDSN string // when set, overrides StoreDir with a Postgres DSN
}

// DatabaseConfig holds database connection configuration for the Postgres repository backend
type DatabaseConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// RedisConfig holds Redis connection configuration for the optional signal bus
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds adapter-authentication configuration for the facade API
type JWTConfig struct {
	Secret     string
	TokenTTL   time.Duration
}

// DispatcherConfig holds dispatcher and scheduling configuration
type DispatcherConfig struct {
	Enabled               bool
	HeartbeatCronSchedule string        // robfig/cron expression, e.g. "*/1 * * * *"
	FlexTimeRatio         float64       // not read by the dispatcher; each periodic job carries its own flex window
	WatchdogTimeout       time.Duration // max time an active job may run before being force-stopped
	MaxConcurrentJobs     int           // global ceiling across all packages
	IdleShutdownAfter     time.Duration // 0 disables idle self-termination
	RandomOffsetSeconds   int64         // spreads periodic alarms across installations; redrawn on every start when unset, never persisted
}

// BackoffConfig holds backoff-engine configuration
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// RateLimitConfig holds facade API rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// HTTPClientConfig holds adapter-callback HTTP client configuration
type HTTPClientConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name:          getEnv("APP_NAME", "syncd"),
			Env:           getEnv("APP_ENV", "development"),
			Port:          getEnvAsInt("APP_PORT", 8090),
			Debug:         getEnvAsBool("APP_DEBUG", true),
			StoreDir:      getEnv("SYNCD_STORE_DIR", "./data"),
			RepositoryDSN: getEnv("SYNCD_REPOSITORY_DSN", ""),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "syncd"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			TokenTTL: getEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Dispatcher: DispatcherConfig{
			Enabled:               getEnvAsBool("DISPATCHER_ENABLED", true),
			HeartbeatCronSchedule: getEnv("DISPATCHER_HEARTBEAT_CRON", "*/1 * * * *"),
			FlexTimeRatio:         getEnvAsFloat("DISPATCHER_FLEX_TIME_RATIO", 0.25),
			WatchdogTimeout:       getEnvAsDuration("DISPATCHER_WATCHDOG_TIMEOUT", 5*time.Minute),
			MaxConcurrentJobs:     getEnvAsInt("DISPATCHER_MAX_CONCURRENT_JOBS", 5),
			IdleShutdownAfter:     getEnvAsDuration("DISPATCHER_IDLE_SHUTDOWN_AFTER", 0),
			RandomOffsetSeconds:   getEnvAsRandomOffset("DISPATCHER_RANDOM_OFFSET_SECONDS"),
		},
		Backoff: BackoffConfig{
			InitialDelay: getEnvAsDuration("BACKOFF_INITIAL_DELAY", 10*time.Second),
			MaxDelay:     getEnvAsDuration("BACKOFF_MAX_DELAY", time.Hour),
			Multiplier:   getEnvAsFloat("BACKOFF_MULTIPLIER", 2.0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "debug"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvAsInt("API_RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvAsDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		},
		HTTP: HTTPClientConfig{
			Timeout:      getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("HTTP_CLIENT_MAX_RETRIES", 3),
			RetryWaitMin: getEnvAsDuration("HTTP_CLIENT_RETRY_WAIT_MIN", time.Second),
			RetryWaitMax: getEnvAsDuration("HTTP_CLIENT_RETRY_WAIT_MAX", 30*time.Second),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" && c.App.Env == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	if c.Dispatcher.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("DISPATCHER_MAX_CONCURRENT_JOBS must be positive")
	}

	if c.Backoff.Multiplier <= 1.0 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be greater than 1.0")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsRandomOffset reads a fixed random-offset seconds value from the
// environment, or draws one in [0, 86400) if unset so operators who never
// set DISPATCHER_RANDOM_OFFSET_SECONDS still get alarms spread across
// installations instead of all firing on the same boundary.
func getEnvAsRandomOffset(key string) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return rand.Int63n(86400)
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
