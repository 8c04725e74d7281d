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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/background"
	"github.com/mohitmehta601/agricure/internal/cache"
	"github.com/mohitmehta601/agricure/internal/config"
	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/handlers"
	"github.com/mohitmehta601/agricure/internal/metrics"
	middlewareCustom "github.com/mohitmehta601/agricure/internal/middleware"
	"github.com/mohitmehta601/agricure/internal/models"
	"github.com/mohitmehta601/agricure/internal/repositories"
	"github.com/mohitmehta601/agricure/internal/routes"
	"github.com/mohitmehta601/agricure/internal/services"
	pkgauth "github.com/mohitmehta601/agricure/pkg/auth"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(startupCtx); err != nil {
		startupCancel()
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Optional resend cooldown
	var throttle services.ResendThrottle
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(startupCtx, cfg.Redis.URL)
		if err != nil {
			startupCancel()
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()
		throttle = cache.NewRedisResendThrottle(client)
		logger.Info("resend cooldown enabled", slog.Duration("cooldown", cfg.Signup.ResendCooldown))
	}

	emailService, err := newEmailService(startupCtx, cfg.Email, logger)
	startupCancel()
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	licenseRepo := repositories.NewLicenseKeyRepository(db)
	pendingRepo := repositories.NewPendingRegistrationRepository(db)
	codeRepo := repositories.NewVerificationCodeRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)

	m := metrics.New()
	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.FailureDelayMs,
		RandomDelayMs: cfg.Auth.FailureJitterMs,
	})

	// Initialize services
	signupService := services.NewSignupService(services.SignupDeps{
		Users:       userRepo,
		Licenses:    licenseRepo,
		Pending:     pendingRepo,
		Codes:       codeRepo,
		Tx:          db,
		Email:       emailService,
		Tokens:      tokenManager,
		Hasher:      hasher,
		Throttle:    throttle,
		Metrics:     m,
		Logger:      logger,
		AuditLogger: auditLogger,
		Config: services.SignupConfig{
			OTPTTL:         cfg.Signup.OTPTTL,
			PendingTTL:     cfg.Signup.PendingTTL,
			NotifyTimeout:  cfg.Signup.NotifyTimeout,
			ResendCooldown: cfg.Signup.ResendCooldown,
		},
	})
	authService := services.NewAuthService(userRepo, revokeRepo, tokenManager, hasher, timingDelay, m, logger, auditLogger)
	licenseService := services.NewLicenseService(licenseRepo, logger, auditLogger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, licenseRepo, db, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	rateLimit := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	rateLimit.RequestsPerMinute = cfg.Server.AuthRateLimit

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router,
		routes.Handlers{
			Auth:        handlers.NewAuthHandler(signupService, authService),
			LicenseKeys: handlers.NewLicenseKeyHandler(licenseService),
			Health:      handlers.NewHealthHandler(db, logger),
		},
		routes.Security{
			Tokens:      tokenManager,
			Revocations: revokeRepo,
			Users:       userRepo,
			RateLimit:   rateLimit,
			Logger:      logger,
		},
		m.Handler(),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(pendingRepo, codeRepo, revokeRepo, m, logger, background.CleanupConfig{
		Interval:   cfg.Auth.CleanupInterval,
		OTPTTL:     cfg.Signup.OTPTTL,
		PendingTTL: cfg.Signup.PendingTTL,
	})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newEmailService(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (services.EmailService, error) {
	if cfg.Provider == "ses" {
		svc, err := services.NewAWSSESEmailService(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	logger.Warn("email provider is \"log\": verification codes are written to the log")
	return services.NewLogEmailService(logger), nil
}

// ensureAdminUser gives ADMIN_EMAIL the admin role. An existing account is
// promoted; otherwise an account is created with ADMIN_PASSWORD against a
// key reserved for it, since every account must hold a consumed key.
func ensureAdminUser(
	ctx context.Context,
	userRepo *repositories.UserRepository,
	licenseRepo *repositories.LicenseKeyRepository,
	tx services.Transactor,
	hasher *pkgauth.PasswordHasher,
	logger *slog.Logger,
) error {
	adminEmail := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" {
		logger.Info("no ADMIN_EMAIL set, skipping admin bootstrap")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		if err := userRepo.SetRoleByEmail(ctx, adminEmail, models.RoleAdmin); err != nil {
			return fmt.Errorf("failed to promote admin: %w", err)
		}
		logger.Info("admin role ensured", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if adminPassword == "" {
		logger.Info("admin account does not exist and no ADMIN_PASSWORD set, skipping creation")
		return nil
	}
	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("invalid ADMIN_PASSWORD: %w", err)
	}

	hashedPassword, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	adminID := uuid.New().String()
	keyString := "ADMIN-" + strings.ToUpper(strings.ReplaceAll(adminID, "-", ""))

	err = tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := licenseRepo.Insert(ctx, models.LicenseKeyProvision{
			Key: keyString, ProductID: "admin", ProductName: "AgriCure Admin",
		}); err != nil {
			return err
		}
		key, err := licenseRepo.Consume(ctx, keyString, adminID)
		if err != nil {
			return err
		}
		_, err = userRepo.Create(ctx, &models.User{
			ID:           adminID,
			Email:        adminEmail,
			PasswordHash: hashedPassword,
			FullName:     "Admin",
			PhoneNumber:  "",
			LicenseKeyID: key.ID,
			ProductID:    key.ProductID,
			ProductName:  key.ProductName,
			Role:         models.RoleAdmin,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
