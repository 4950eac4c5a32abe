package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kestrelhq/warden/internal/auth"
	"github.com/kestrelhq/warden/internal/background"
	"github.com/kestrelhq/warden/internal/circuit"
	"github.com/kestrelhq/warden/internal/config"
	"github.com/kestrelhq/warden/internal/database"
	"github.com/kestrelhq/warden/internal/handlers"
	middlewareCustom "github.com/kestrelhq/warden/internal/middleware"
	"github.com/kestrelhq/warden/internal/ratelimit"
	"github.com/kestrelhq/warden/internal/repositories"
	"github.com/kestrelhq/warden/internal/routes"
	"github.com/kestrelhq/warden/internal/services"
	"github.com/kestrelhq/warden/internal/store"
	pkghttp "github.com/kestrelhq/warden/pkg/http"
	pkglogger "github.com/kestrelhq/warden/pkg/logger"
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

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Shared key-value store: guard lockout levels, circuit state and
	// magic link tokens all live here.
	kv := store.NewPostgresStore(db)

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	archiveRepo := repositories.NewAttemptArchiveRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Circuit breakers, one per outbound dependency
	breakers := circuit.NewRegistry("warden", circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		ResetTimeout:     cfg.Circuit.ResetTimeout,
		MonitoringWindow: cfg.Circuit.MonitoringWindow,
	}, kv, logger)
	emailBreaker := breakers.Breaker("email")

	// Email delivery
	var emailService services.EmailSender
	if cfg.Email.Enabled {
		emailService, err = services.NewAWSSESEmailService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.MagicLinkURLBase,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailService = services.NewNoopEmailService(logger)
	}

	// Per-identifier admission guards. Escalated lockouts alert the
	// account owner through the breaker-guarded sender.
	limits := ratelimit.NewService(ratelimit.Config{
		Window:               cfg.RateLimit.Window,
		MaxMagicLinkRequests: cfg.RateLimit.MaxMagicLinkRequests,
		MaxLoginAttempts:     cfg.RateLimit.MaxLoginAttempts,
		CaptchaThreshold:     cfg.RateLimit.CaptchaThreshold,
		LockoutDurations:     cfg.RateLimit.LockoutDurations,
		LockoutDecay:         cfg.RateLimit.LockoutDecay,
	}, kv, logger, ratelimit.WithLockoutCallback(func(identifier string, duration time.Duration, level int) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := emailBreaker.Execute(ctx, func(ctx context.Context) error {
			return emailService.SendLockoutAlert(ctx, identifier, duration, level)
		})
		if err != nil {
			logger.Warn("lockout alert not delivered",
				slog.String("identifier", pkglogger.SanitizedEmail(identifier)),
				slog.Any("error", err))
		}
	}))
	defer limits.Close()

	// Services
	authService := services.NewAuthService(
		userRepo, limits, archiveRepo, emailService, emailBreaker, kv,
		auditLogger, logger, 30*24*time.Hour,
	)

	var mfaService *services.MFAService
	if cfg.MFA.EncryptionKey != "" {
		totpManager, err := auth.NewTOTPManager([]byte(cfg.MFA.EncryptionKey), cfg.MFA.Issuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
		mfaService = services.NewMFAService(userRepo, totpManager, auditLogger, logger)
	} else {
		logger.Warn("MFA_ENCRYPTION_KEY not set, MFA endpoints are disabled")
	}

	// Background cleanup: expired archive rows and idle guards
	cleanupManager := background.NewCleanupManager(
		archiveRepo, limits, logger,
		cfg.RateLimit.CleanupInterval,
		cfg.RateLimit.GuardIdleEviction,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupManager.Start(cleanupCtx)
	defer cleanupCancel()

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(nil)
	if mfaService != nil {
		mfaHandler = handlers.NewMFAHandler(mfaService)
	}
	healthHandler := handlers.NewHealthHandler(db, breakers)

	// Router
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, healthHandler, cfg.Admin.APIToken)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-shutdownCh
	logger.Info("shutdown signal received")

	cleanupManager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	logger.Info("server stopped")
}
