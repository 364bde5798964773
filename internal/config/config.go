package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Session  SessionConfig
	Throttle ThrottleConfig
	Reset    ResetConfig
	Timing   TimingConfig
	Email    EmailConfig
	// StoreTimeout bounds every individual store call
	StoreTimeout time.Duration
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	LoginPath      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration

	// AuthRateLimit is requests per minute per IP on credential endpoints
	AuthRateLimit int
}

type SessionConfig struct {
	AbsoluteTimeout  time.Duration
	RotationInterval time.Duration
	Store            string
	CookieName       string
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   string
}

type ThrottleConfig struct {
	MaxFailedAttempts      int
	Window                 time.Duration
	RetainedFailureHistory int
	Store                  string
}

type ResetConfig struct {
	TokenTTL      time.Duration
	SweepInterval time.Duration
	URLBase       string
	MaxRequests   int
	RequestWindow time.Duration
}

type TimingConfig struct {
	FailureDelayBase   time.Duration
	FailureDelayJitter time.Duration
}

type EmailConfig struct {
	Provider  string // "ses" or "log"
	AWSRegion string
	From      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "fieldnotes"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			LoginPath:      getEnv("LOGIN_PATH", "/login"),
			AuthRateLimit:  getEnvAsInt("AUTH_RATE_LIMIT", 20),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Session: SessionConfig{
			AbsoluteTimeout:  getEnvAsDuration("SESSION_ABSOLUTE_TIMEOUT", 4*time.Hour),
			RotationInterval: getEnvAsDuration("SESSION_ROTATION_INTERVAL", 30*time.Minute),
			Store:            strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			CookieName:       getEnv("SESSION_COOKIE_NAME", "fieldnotes_session"),
			CookieDomain:     getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:     getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:   strings.ToLower(getEnv("COOKIE_SAMESITE", "strict")),
		},
		Throttle: ThrottleConfig{
			MaxFailedAttempts:      getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			Window:                 getEnvAsDuration("THROTTLE_WINDOW", 900*time.Second),
			RetainedFailureHistory: getEnvAsInt("RETAINED_FAILURE_HISTORY", 10),
			Store:                  strings.ToLower(getEnv("THROTTLE_STORE", StoreMemory)),
		},
		Reset: ResetConfig{
			TokenTTL:      getEnvAsDuration("RESET_TOKEN_TTL", time.Hour),
			SweepInterval: getEnvAsDuration("RESET_SWEEP_INTERVAL", 15*time.Minute),
			URLBase:       getEnv("RESET_URL_BASE", "http://localhost:8080/reset-password"),
			MaxRequests:   getEnvAsInt("RESET_MAX_REQUESTS", 3),
			RequestWindow: getEnvAsDuration("RESET_REQUEST_WINDOW", time.Hour),
		},
		Timing: TimingConfig{
			FailureDelayBase:   getEnvAsDuration("AUTH_FAILURE_DELAY_BASE", 250*time.Millisecond),
			FailureDelayJitter: getEnvAsDuration("AUTH_FAILURE_DELAY_JITTER", 100*time.Millisecond),
		},
		Email: EmailConfig{
			Provider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			From:      getEnv("EMAIL_FROM", "no-reply@fieldnotes.local"),
		},
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"SESSION_ABSOLUTE_TIMEOUT", c.Session.AbsoluteTimeout},
		{"SESSION_ROTATION_INTERVAL", c.Session.RotationInterval},
		{"THROTTLE_WINDOW", c.Throttle.Window},
		{"RESET_TOKEN_TTL", c.Reset.TokenTTL},
		{"RESET_SWEEP_INTERVAL", c.Reset.SweepInterval},
		{"RESET_REQUEST_WINDOW", c.Reset.RequestWindow},
		{"STORE_TIMEOUT", c.StoreTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	if c.Session.RotationInterval >= c.Session.AbsoluteTimeout {
		errs = append(errs, errors.New("SESSION_ROTATION_INTERVAL must be shorter than SESSION_ABSOLUTE_TIMEOUT"))
	}

	if c.Throttle.MaxFailedAttempts < 1 {
		errs = append(errs, errors.New("MAX_FAILED_ATTEMPTS must be at least 1"))
	}
	if c.Reset.MaxRequests < 1 {
		errs = append(errs, errors.New("RESET_MAX_REQUESTS must be at least 1"))
	}
	if c.Server.AuthRateLimit < 1 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT must be at least 1"))
	}
	if c.Throttle.RetainedFailureHistory < c.Throttle.MaxFailedAttempts {
		errs = append(errs, errors.New("RETAINED_FAILURE_HISTORY must be at least MAX_FAILED_ATTEMPTS"))
	}

	switch c.Session.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE %q is not one of memory, redis", c.Session.Store))
	}
	switch c.Throttle.Store {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("THROTTLE_STORE %q is not one of memory, redis, postgres", c.Throttle.Store))
	}
	if (c.Session.Store == StoreRedis || c.Throttle.Store == StoreRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when a redis store is selected"))
	}

	switch c.Session.CookieSameSite {
	case "strict", "lax", "none":
	default:
		errs = append(errs, fmt.Errorf("COOKIE_SAMESITE %q is not one of strict, lax, none", c.Session.CookieSameSite))
	}
	if c.Session.CookieSameSite == "none" && !c.Session.CookieSecure {
		errs = append(errs, errors.New("COOKIE_SAMESITE=none requires COOKIE_SECURE"))
	}

	switch c.Email.Provider {
	case "ses", "log":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q is not one of ses, log", c.Email.Provider))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvAsDuration accepts Go duration syntax or a bare number of seconds.
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
