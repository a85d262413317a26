package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/versatiles/printops/internal/database"
	mw "github.com/versatiles/printops/internal/middleware"
	inats "github.com/versatiles/printops/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	Login http.HandlerFunc

	Me          http.HandlerFunc
	CreateUser  http.HandlerFunc
	ListUsers   http.HandlerFunc
	SetCapacity http.HandlerFunc
	SetActive   http.HandlerFunc

	CreateOrder       http.HandlerFunc
	ListOrders        http.HandlerFunc
	OrderStats        http.HandlerFunc
	GetOrder          http.HandlerFunc
	ChangeOrderStatus http.HandlerFunc

	QuotaSummary http.HandlerFunc
	ListTopups   http.HandlerFunc
	ApplyTopup   http.HandlerFunc

	UploadImport  http.HandlerFunc
	ListImports   http.HandlerFunc
	GetImport     http.HandlerFunc
	ApproveImport http.HandlerFunc
	RejectImport  http.HandlerFunc

	ListNotifications        http.HandlerFunc
	MarkNotificationRead     http.HandlerFunc
	MarkAllNotificationsRead http.HandlerFunc

	ListAuditLogs http.HandlerFunc

	AuthMiddleware func(http.Handler) http.Handler
	AdminOnly      func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	LoginRateLimiter   func(http.Handler) http.Handler
	UploadRateLimiter  func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness checks the database and the event bus.
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}
		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		switch {
		case natsClient == nil:
			health["nats"] = "not configured"
		case !natsClient.Healthy():
			// Events are best effort; order processing continues without them.
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		}

		JSON(w, status, health)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.LoginRateLimiter != nil {
				r.Use(cfg.LoginRateLimiter)
			}
			r.Post("/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", h.Me)
				r.Group(func(r chi.Router) {
					r.Use(h.AdminOnly)
					r.Post("/", h.CreateUser)
					r.Get("/", h.ListUsers)
					r.Put("/{userID}/capacity", h.SetCapacity)
					r.Put("/{userID}/active", h.SetActive)
				})
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/", h.ListOrders)
				r.Get("/stats", h.OrderStats)
				r.Route("/{orderID}", func(r chi.Router) {
					r.Get("/", h.GetOrder)
					r.Post("/status", h.ChangeOrderStatus)
				})
			})

			r.Route("/quotas/{clientID}", func(r chi.Router) {
				r.Get("/", h.QuotaSummary)
				r.Get("/topups", h.ListTopups)
				r.With(h.AdminOnly).Post("/topups", h.ApplyTopup)
			})

			r.Route("/imports", func(r chi.Router) {
				r.Use(h.AdminOnly)
				if cfg.UploadRateLimiter != nil {
					r.With(cfg.UploadRateLimiter).Post("/", h.UploadImport)
				} else {
					r.Post("/", h.UploadImport)
				}
				r.Get("/", h.ListImports)
				r.Route("/{importID}", func(r chi.Router) {
					r.Get("/", h.GetImport)
					r.Post("/approve", h.ApproveImport)
					r.Post("/reject", h.RejectImport)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotifications)
				r.Post("/read-all", h.MarkAllNotificationsRead)
				r.Post("/{notificationID}/read", h.MarkNotificationRead)
			})

			r.With(h.AdminOnly).Get("/audit", h.ListAuditLogs)
		})
	})

	return r
}
