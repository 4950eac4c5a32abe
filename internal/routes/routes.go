package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/kestrelhq/warden/internal/handlers"
	"github.com/kestrelhq/warden/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	healthHandler *handlers.HealthHandler,
	adminToken string,
) {
	// Blunt per-IP limit on the public auth surface; the per-identifier
	// guards behind it enforce the real policy.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	router.Get("/health", healthHandler.Health)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/magic-link", authHandler.MagicLink)
		r.Post("/auth/magic-link/consume", authHandler.MagicConsume)
		r.Post("/auth/captcha/verify", authHandler.CaptchaVerify)
		r.Get("/auth/limits/{identifier}", authHandler.LimitStatus)

		r.Post("/mfa/enroll", mfaHandler.Enroll)
		r.Post("/mfa/verify", mfaHandler.Verify)
	})

	// Admin-only routes
	router.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(adminToken))
		r.Post("/admin/limits/{identifier}/reset", authHandler.ResetLimits)
	})
}
