package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wealthpath/buckets/internal/config"
)

// Sessions is what the HTTP layer needs from the session manager.
type Sessions interface {
	SessionSource
	SignOuter
}

// RouterDeps wires the handlers to the application services.
type RouterDeps struct {
	Config   *config.Config
	Tokens   TokenParser
	Accounts AccountService
	Sessions Sessions
	Billing  WebhookProcessor
}

// NewRouter builds the HTTP API.
func NewRouter(d RouterDeps) http.Handler {
	authHandler := NewAuthHandler(d.Accounts, d.Sessions, d.Config)
	planHandler := NewPlanHandler(d.Sessions, d.Billing, d.Config.Plan.FreeBucketLimit, d.Config.FrontendURL)
	budgetHandler := NewBudgetHandler(d.Sessions)
	noticeHandler := NewNotificationHandler(d.Sessions)
	pages := NewPageGuard(d.Sessions, d.Config)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestContext)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", Health)

	// Public routes
	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)
	r.Post("/api/billing/webhook", planHandler.Webhook)

	// Guarded pages
	r.Group(func(r chi.Router) {
		r.Use(OptionalAuth(d.Tokens))
		r.Get("/app", pages.App)
		r.Get("/signin", pages.SignIn)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.Tokens))

		r.Post("/api/auth/signout", authHandler.SignOut)

		r.Get("/api/plan", planHandler.Get)
		r.Post("/api/plan/refresh", planHandler.Refresh)
		r.Get("/api/billing/return", planHandler.BillingReturn)

		r.Get("/api/budget", budgetHandler.Get)
		r.Get("/api/budget/summary", budgetHandler.Summary)
		r.Put("/api/budget/name", budgetHandler.Rename)
		r.Put("/api/budget/settings", budgetHandler.UpdateSettings)
		r.Post("/api/budget/flush", budgetHandler.Flush)

		r.Post("/api/buckets", budgetHandler.CreateBucket)
		r.Put("/api/buckets/order", budgetHandler.ReorderBuckets)
		r.Patch("/api/buckets/{id}", budgetHandler.UpdateBucket)
		r.Delete("/api/buckets/{id}", budgetHandler.DeleteBucket)
		r.Post("/api/buckets/{id}/toggle", budgetHandler.ToggleBucket)
		r.Post("/api/buckets/{id}/items", budgetHandler.AddItem)
		r.Patch("/api/buckets/{id}/items/{itemID}", budgetHandler.UpdateItem)
		r.Delete("/api/buckets/{id}/items/{itemID}", budgetHandler.DeleteItem)

		r.Get("/api/notifications", noticeHandler.List)
		r.Delete("/api/notifications/{id}", noticeHandler.Dismiss)
	})

	return r
}
