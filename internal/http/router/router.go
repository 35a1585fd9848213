package router

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/app/config"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/handlers"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/middleware"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// New monta o router HTTP com os middlewares e rotas do worker
func New(
	cfg *config.Config,
	log logger.Logger,
	sessionHandler *handlers.SessionHandler,
	messageHandler *handlers.MessageHandler,
	healthHandler *handlers.HealthHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(log))
	r.Use(middleware.NewLoggingMiddleware(log))
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.NewCORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.NewRateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Get("/metrics", healthHandler.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/start", sessionHandler.StartSession)
			r.Post("/create", sessionHandler.CreateSession)

			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/qr", sessionHandler.GetQR)
				r.Get("/status", sessionHandler.GetStatus)
				r.Post("/restart", sessionHandler.RestartSession)
				r.Post("/disconnect", sessionHandler.DisconnectSession)
				r.Post("/logout", sessionHandler.LogoutSession)
				r.Delete("/", sessionHandler.DeleteSession)
			})
		})

		r.Get("/sessions", sessionHandler.ListSessions)

		r.Route("/{sessionId}", func(r chi.Router) {
			r.Post("/send", messageHandler.SendMessage)
			r.Post("/send/bulk", messageHandler.SendBulk)
			r.Get("/messages", messageHandler.GetMessages)
		})
	})

	return r
}
