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

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/config"
	httptransport "github.com/example/neighborhood-portal/internal/http"
	"github.com/example/neighborhood-portal/internal/ids"
	"github.com/example/neighborhood-portal/internal/logging"
	"github.com/example/neighborhood-portal/internal/obs"
	"github.com/example/neighborhood-portal/internal/persistence"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite/migration"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const sessionSweepInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	app, err := newApp(ctx, cfg, migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
	if err != nil {
		logger.Error("failed to start portal", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := app.storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	go sweepSessions(ctx, app.storage, sessionSweepInterval, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("portal API listening", "addr", server.Addr, "version", version)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	storage *sqlite.Storage
	metrics *obs.Metrics
	handler http.Handler
}

// newApp opens and migrates storage, then wires services and the router.
func newApp(ctx context.Context, cfg config.Config, storageConfig migration.SQLiteConfig, logger *slog.Logger) (*app, error) {
	storage, err := sqlite.Open(ctx, storageConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, err
	}
	if err := bootstrapAdmin(ctx, storage, cfg.BootstrapAdminEmail, logger); err != nil {
		_ = storage.Close()
		return nil, err
	}

	now := time.Now
	metrics := obs.NewMetrics()
	metrics.SetBuildInfo(version, commit)

	users := newCredentialStoreAdapter(storage)
	directory := newNeighborhoodDirectoryAdapter(storage)

	roleService := application.NewRoleServiceWithLogger(newRoleRepositoryAdapter(storage), users, directory, cfg.RoleCacheTTL, ids.NewRandom, now, logger)
	profileService := application.NewProfileServiceWithLogger(users, directory, now, logger)
	approvalService := application.NewApprovalServiceWithLogger(
		newApprovalRepositoryAdapter(storage),
		newCategoryRepositoryAdapter(storage),
		users,
		roleService,
		metrics,
		ids.NewSortable,
		now,
		logger,
	)
	authService := application.NewAuthService(application.AuthDependencies{
		Users:          users,
		Sessions:       newSessionRepositoryAdapter(storage),
		Codes:          newVerificationCodeAdapter(storage),
		Sender:         logCodeSender{logger: logger},
		Tokens:         application.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, now, ids.NewRandom),
		Roles:          roleService,
		IDGenerator:    ids.NewRandom,
		TokenGenerator: ids.NewToken,
		Now:            now,
		RefreshTTL:     cfg.RefreshTokenTTL,
		CodeTTL:        cfg.VerificationCodeTTL,
		Logger:         logger,
	})

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:         httptransport.NewAuthHandler(authService, profileService, metrics, logger),
		Profile:      httptransport.NewProfileHandler(profileService, roleService, access.NewGate(access.DefaultRoutes()), logger),
		Approvals:    httptransport.NewApprovalHandler(approvalService, logger),
		Validator:    authService,
		LoginLimiter: httptransport.NewRateLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst, metrics, logger).WithTrustedProxies(cfg.TrustedProxies),
		Metrics:      metrics,
		Health:       storage,
		Logger:       logger,
	})

	return &app{storage: storage, metrics: metrics, handler: handler}, nil
}

// bootstrapAdmin grants ADMIN to an existing account so the first operator
// can assign roles over the API. Unknown emails are skipped with a warning.
func bootstrapAdmin(ctx context.Context, storage *sqlite.Storage, email string, logger *slog.Logger) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	user, err := storage.GetUserByEmail(ctx, email)
	if errors.Is(err, persistence.ErrNotFound) {
		logger.Warn("bootstrap admin not registered yet", "email", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}

	roles, err := storage.ListRolesForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list bootstrap admin roles: %w", err)
	}
	for _, role := range roles {
		if role.Role == string(access.RoleAdmin) || role.Role == string(access.RoleSuperAdmin) {
			return nil
		}
	}

	if err := storage.CreateRole(ctx, persistence.RoleAssignment{
		ID:        ids.NewRandom(),
		UserID:    user.ID,
		Role:      string(access.RoleAdmin),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("grant bootstrap admin: %w", err)
	}
	logger.Info("granted bootstrap admin role", "user_id", user.ID)
	return nil
}

// sweepSessions deletes expired refresh sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, sessions persistence.SessionRepository, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if err := sessions.DeleteExpiredSessions(ctx, tick.UTC()); err != nil {
				logger.Warn("failed to delete expired sessions", "error", err)
			}
		}
	}
}
