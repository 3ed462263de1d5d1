package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

// Router holds everything the HTTP surface is built from.
type Router struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Users         *UserHandler
	Presence      *PresenceHandler

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *logger.Logger
}

// Handler builds the chi router.
func (rt Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", rt.Health.Health)
	r.Get("/ready", rt.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(rt.JWTSecret))
		if rt.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(rt.RateLimitRequests, rt.RateLimitWindow))
		}

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", rt.Conversations.Create)
			r.Get("/", rt.Conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.Conversations.Get)
				r.Delete("/", rt.Conversations.Delete)
				r.Post("/leave", rt.Conversations.Leave)
				r.Post("/seen", rt.Conversations.Seen)
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", rt.Messages.Send)
			r.Patch("/{id}", rt.Messages.Edit)
			r.Delete("/{id}", rt.Messages.Delete)
		})

		r.Get("/users", rt.Users.List)
		r.Patch("/users/me", rt.Users.UpdateProfile)

		r.Get("/presence", rt.Presence.Snapshot)
	})

	return r
}
