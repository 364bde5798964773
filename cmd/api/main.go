package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/config"
	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/BradenHooton/fieldnotes/internal/routes"
	pkgauth "github.com/BradenHooton/fieldnotes/pkg/auth"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fieldnotes",
		Short:         "Session, CSRF, throttling and password reset service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newSweepCommand(), newCreateUserCommand())
	return cmd
}

// setup loads configuration and the JSON logger every command shares
func setup() (*config.Config, *slog.Logger, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("session_store", cfg.Session.Store),
		slog.String("throttle_store", cfg.Throttle.Store))
	return cfg, logger, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to initialise", slog.Any("error", err))
				return err
			}
			defer a.Close()

			bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := a.ensureAdminUser(bootCtx); err != nil {
				logger.Error("failed to ensure admin user", slog.Any("error", err))
			}
			cancel()

			router := routes.NewRouter(a.routeDeps(), a.routeConfig(), logger)
			server := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			cleanupManager := a.cleanupManager()
			go cleanupManager.Start(ctx)

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("starting server", slog.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()

			select {
			case err := <-serverErr:
				if err != nil {
					logger.Error("server error", slog.Any("error", err))
					cleanupManager.Stop()
					return err
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			}

			cleanupManager.Stop()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", slog.Any("error", err))
				return err
			}

			logger.Info("server stopped gracefully")
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return db.Migrate(cmd.Context())
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired reset tokens and stale failure history once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.cleanupManager().RunOnce(cmd.Context())
		},
	}
}

func newCreateUserCommand() *cobra.Command {
	var email, name, role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user; the password is read from FIELDNOTES_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			password := os.Getenv("FIELDNOTES_PASSWORD")
			if password == "" {
				return errors.New("FIELDNOTES_PASSWORD is required")
			}

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := createUser(cmd.Context(), newUserRepository(db), email, name, role, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "user", "role string attached to the identity")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// userCreator is the slice of the credential store seeding needs
type userCreator interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.UserRecord, error)
	Create(ctx context.Context, user *models.UserRecord) (*models.UserRecord, error)
}

func createUser(ctx context.Context, users userCreator, email, name, role, password string) (*models.UserRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := pkgauth.ValidatePassword(password); err != nil {
		var weak *pkgauth.PasswordValidationError
		if errors.As(err, &weak) {
			return nil, fmt.Errorf("password rejected: %s", strings.Join(weak.Errors, "; "))
		}
		return nil, err
	}

	if _, err := users.FindByIdentifier(ctx, email); err == nil {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrConflict)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	return users.Create(ctx, &models.UserRecord{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
	})
}
