package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/auth"
	"github.com/BradenHooton/fieldnotes/internal/background"
	"github.com/BradenHooton/fieldnotes/internal/config"
	"github.com/BradenHooton/fieldnotes/internal/database"
	"github.com/BradenHooton/fieldnotes/internal/handlers"
	"github.com/BradenHooton/fieldnotes/internal/middleware"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/BradenHooton/fieldnotes/internal/repositories"
	"github.com/BradenHooton/fieldnotes/internal/routes"
	"github.com/BradenHooton/fieldnotes/internal/services"
	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
	"github.com/redis/go-redis/v9"
)

// app holds every constructed component of a running process
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *database.DB
	redis *redis.Client

	users        *repositories.UserRepository
	auditLogs    *repositories.AuditLogRepository
	sessionStore services.SessionStore
	failureStore services.FailureStore

	audit    *services.AuditService
	sessions *services.SessionService
	resets   *services.PasswordResetService
	flows    *services.AuthService
	csrf     *auth.CSRFGuard
	ipConfig *pkghttp.IPConfig
}

// pruner is implemented by stores whose expired rows need an explicit sweep
type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		return nil, err
	}
	return db, nil
}

func newUserRepository(db *database.DB) *repositories.UserRepository {
	return repositories.NewUserRepository(db)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Redis.Addr != "" {
		client, err := database.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
	}

	prefixes, err := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ipConfig = &pkghttp.IPConfig{TrustedProxies: prefixes}

	metrics, err := services.NewAuthMetrics(nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mailer, err := newMailer(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.users = repositories.NewUserRepository(db)
	a.auditLogs = repositories.NewAuditLogRepository(db)

	a.sessionStore = newSessionStore(cfg, a.redis)
	a.failureStore = newFailureStore(cfg, db, a.redis)

	a.audit = services.NewAuditService(a.auditLogs, logger, metrics, cfg.StoreTimeout)
	a.sessions = services.NewSessionService(a.sessionStore, a.users, a.audit, services.SessionConfig{
		AbsoluteTimeout:  cfg.Session.AbsoluteTimeout,
		RotationInterval: cfg.Session.RotationInterval,
		StoreTimeout:     cfg.StoreTimeout,
	}, logger)
	throttle := services.NewBruteForceThrottle(a.failureStore, services.ThrottleConfig{
		MaxAttempts:     cfg.Throttle.MaxFailedAttempts,
		Window:          cfg.Throttle.Window,
		RetainedHistory: cfg.Throttle.RetainedFailureHistory,
		StoreTimeout:    cfg.StoreTimeout,
	}, logger, metrics)
	a.resets = services.NewPasswordResetService(repositories.NewPasswordResetRepository(db), nil, services.PasswordResetConfig{
		TokenTTL:     cfg.Reset.TokenTTL,
		StoreTimeout: cfg.StoreTimeout,
	}, logger)
	timing := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Timing.FailureDelayBase,
		RandomDelay: cfg.Timing.FailureDelayJitter,
	})
	a.flows = services.NewAuthService(a.users, a.sessions, throttle, a.resets, mailer, a.audit, timing, nil, metrics,
		services.AuthConfig{
			ResetURLBase:     cfg.Reset.URLBase,
			ResetMaxRequests: cfg.Reset.MaxRequests,
			ResetWindow:      cfg.Reset.RequestWindow,
			StoreTimeout:     cfg.StoreTimeout,
		}, logger)
	a.csrf = auth.NewCSRFGuard(a.sessionStore, logger)

	return a, nil
}

// sessionKeyTTL outlives the idle timeout so an idle session is still there on
// its next touch and gets terminated and audited rather than silently evicted
func sessionKeyTTL(cfg *config.Config) time.Duration {
	return cfg.Session.AbsoluteTimeout + cfg.Session.RotationInterval
}

func newSessionStore(cfg *config.Config, client *redis.Client) services.SessionStore {
	if cfg.Session.Store == config.StoreRedis {
		return repositories.NewRedisSessionStore(client, sessionKeyTTL(cfg))
	}
	return repositories.NewMemorySessionStore()
}

// failureRetention is how long failure history must be kept. Login failures
// and reset:-scoped request history share one store, so it is the longer of
// the two windows.
func failureRetention(cfg *config.Config) time.Duration {
	return max(cfg.Throttle.Window, cfg.Reset.RequestWindow)
}

func newFailureStore(cfg *config.Config, db *database.DB, client *redis.Client) services.FailureStore {
	switch cfg.Throttle.Store {
	case config.StoreRedis:
		return repositories.NewRedisFailureStore(client, failureRetention(cfg))
	case config.StorePostgres:
		return repositories.NewLoginAttemptRepository(db)
	default:
		return repositories.NewMemoryFailureStore()
	}
}

func pruneFailuresTask(p pruner, retention time.Duration, now func() time.Time) background.Task {
	return background.Task{Name: "failed_attempts", Run: func(ctx context.Context) (int64, error) {
		return p.Prune(ctx, now().Add(-retention))
	}}
}

func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Mailer, error) {
	if cfg.Email.Provider == "ses" {
		mailer, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.From, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using SES mailer", slog.String("region", cfg.Email.AWSRegion))
		return mailer, nil
	}
	return services.NewLogMailer(cfg.Server.Env, logger), nil
}

func (a *app) routeDeps() routes.Deps {
	health := map[string]handlers.HealthChecker{"postgres": a.db}
	if a.redis != nil {
		health["redis"] = database.RedisHealth{Client: a.redis}
	}
	return routes.Deps{
		Sessions:       a.sessions,
		Flows:          a.flows,
		CSRF:           a.csrf,
		Audit:          a.audit,
		AuditReader:    a.auditLogs,
		Health:         health,
		ThrottleWindow: a.cfg.Throttle.Window,
	}
}

func (a *app) routeConfig() routes.Config {
	return routes.Config{
		Env: a.cfg.Server.Env,
		Cookies: auth.CookieConfig{
			Name:     a.cfg.Session.CookieName,
			Domain:   a.cfg.Session.CookieDomain,
			Secure:   a.cfg.Session.CookieSecure,
			SameSite: a.cfg.Session.CookieSameSite,
		},
		IPConfig:  a.ipConfig,
		RateLimit: middleware.RateLimitConfig{Requests: a.cfg.Server.AuthRateLimit, Window: time.Minute},
		LoginPath: a.cfg.Server.LoginPath,
	}
}

// cleanupManager sweeps expired reset tokens always, plus whatever the selected
// backends cannot expire on their own. Redis keys carry their own TTL.
func (a *app) cleanupManager() *background.CleanupManager {
	tasks := []background.Task{{Name: "reset_tokens", Run: a.resets.SweepExpired}}

	if p, ok := a.failureStore.(pruner); ok {
		tasks = append(tasks, pruneFailuresTask(p, failureRetention(a.cfg), time.Now))
	}
	if mem, ok := a.sessionStore.(*repositories.MemorySessionStore); ok {
		timeout := sessionKeyTTL(a.cfg)
		tasks = append(tasks, background.Task{Name: "idle_sessions", Run: func(ctx context.Context) (int64, error) {
			return mem.PurgeIdle(ctx, time.Now().Add(-timeout))
		}})
	}

	return background.NewCleanupManager(a.logger, a.cfg.Reset.SweepInterval, tasks...)
}

// ensureAdminUser creates the account named by ADMIN_EMAIL and ADMIN_PASSWORD
// when both are set and it does not exist yet
func (a *app) ensureAdminUser(ctx context.Context) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	created, err := createUser(ctx, a.users, email, "", "admin", password)
	if errors.Is(err, models.ErrConflict) {
		a.logger.Info("admin user already exists")
		return nil
	}
	if err != nil {
		return err
	}

	a.logger.Info("admin user created", slog.String("user_id", created.ID))
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
