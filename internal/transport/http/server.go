package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"studiobook/internal/service/schedules"
	"studiobook/internal/session"
)

type Server struct {
	sessions  *session.Manager
	verifier  TokenVerifier
	resolver  ProfileResolver
	schedules *schedules.Service
	limiter   *RateLimiter
	log       *slog.Logger
}

func NewServer(
	sessions *session.Manager,
	verifier TokenVerifier,
	resolver ProfileResolver,
	scheduleSvc *schedules.Service,
	limiter *RateLimiter,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(5, 10)
	}
	return &Server{
		sessions:  sessions,
		verifier:  verifier,
		resolver:  resolver,
		schedules: scheduleSvc,
		limiter:   limiter,
		log:       log.With(slog.String("component", "http")),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware)
				r.Post("/signup", s.handleSignUp)
				r.Post("/signin", s.handleSignIn)
			})
			r.Post("/signout", s.handleSignOut)
			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		r.Get("/session", s.handleSessionState)

		r.Route("/schedules", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/", s.handleListSchedules)
			r.Post("/{id}/book", s.handleBookSchedule)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.handleCreateSchedule)
				r.Put("/{id}", s.handleUpdateSchedule)
				r.Delete("/{id}", s.handleDeleteSchedule)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
