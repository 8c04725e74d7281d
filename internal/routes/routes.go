package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/handlers"
	"github.com/mohitmehta601/agricure/internal/middleware"
	"github.com/mohitmehta601/agricure/internal/models"
)

// Handlers groups the HTTP handlers mounted under /api
type Handlers struct {
	Auth        *handlers.AuthHandler
	LicenseKeys *handlers.LicenseKeyHandler
	Health      *handlers.HealthHandler
}

// Security holds what the bearer and admin checks need
type Security struct {
	Tokens      *auth.TokenManager
	Revocations auth.TokenRevocationChecker
	Users       auth.UserRepository
	RateLimit   middleware.RateLimitConfig
	Logger      *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, sec Security, metricsHandler http.Handler) {
	requireAuth := []func(http.Handler) http.Handler{
		auth.AuthMiddleware(sec.Tokens, sec.Revocations, sec.Logger),
		auth.RequireCurrentCredentials(sec.Users, sec.Logger),
	}
	requireAdmin := auth.RequireRole(sec.Users, models.RoleAdmin)
	limit := middleware.RateLimitByIP(sec.RateLimit)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(limit).Post("/signup", h.Auth.Signup)
			r.With(limit).Post("/verify-otp", h.Auth.VerifyOTP)
			r.With(limit).Post("/resend-otp", h.Auth.ResendOTP)
			r.With(limit).Post("/login", h.Auth.Login)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth...)
				r.Post("/update-password", h.Auth.UpdatePassword)
				r.Post("/logout", h.Auth.Logout)
			})
		})

		r.Route("/product-keys", func(r chi.Router) {
			r.Get("/status/{key}", h.LicenseKeys.Status)
			r.With(limit).Post("/validate", h.LicenseKeys.Validate)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(requireAuth...)
				r.Use(requireAdmin)
				r.Get("/", h.LicenseKeys.List)
				r.Post("/", h.LicenseKeys.Provision)
				r.Get("/stats", h.LicenseKeys.Stats)
				r.Patch("/{id}/deactivate", h.LicenseKeys.Deactivate)
			})
		})
	})

	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler)
	}
}
