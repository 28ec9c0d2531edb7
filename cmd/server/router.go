package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seoforge/backend/internal/handler"
	appMiddleware "github.com/seoforge/backend/internal/middleware"
)

// newRouter builds the HTTP surface. ctx bounds background work such as
// rate limiter cleanup.
func newRouter(ctx context.Context, a *app) http.Handler {
	authHandler := handler.NewAuthHandler(a.auth)
	userHandler := handler.NewUserHandler(a.auth)
	articleHandler := handler.NewArticleHandler(a.gen)
	paymentHandler := handler.NewPaymentHandler(a.billing)
	webhookHandler := handler.NewWebhookHandler(a.webhooks)
	healthHandler := handler.NewHealthHandler(a.health)
	plansHandler := handler.NewPlansHandler(a.plans)
	adminHandler := handler.NewAdminHandler(a.auth, a.admin)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(ctx, 20, 40)
	globalRL.TrustProxy = a.cfg.TrustProxy
	r.Use(globalRL.Middleware())

	// Public routes
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/webhooks/payment", webhookHandler.HandlePayment)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter(ctx, a.cfg.TrustProxy))
		r.Post("/api/auth/register", authHandler.Register)
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(a.auth))

		r.Get("/api/auth/me", userHandler.Me)
		r.Post("/api/auth/change-password", userHandler.ChangePassword)

		r.Post("/api/generate", articleHandler.Generate)
		r.Get("/api/articles", articleHandler.List)
		r.Get("/api/articles/{id}", articleHandler.Get)

		r.Post("/api/billing/subscription", paymentHandler.CreateCheckout)
		r.Get("/api/billing/subscription", paymentHandler.GetSubscription)
		r.Post("/api/billing/subscription/cancel", paymentHandler.CancelSubscription)
		r.Post("/api/billing/subscription/upgrade", paymentHandler.UpgradeSubscription)
		r.Post("/api/billing/tokens", paymentHandler.BuyTokens)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/accounts", adminHandler.ListAccounts)
			r.Post("/api/admin/accounts/{id}/grant", adminHandler.Grant)
		})
	})

	return r
}
