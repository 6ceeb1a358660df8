package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/leadpilot/leadpilot/internal/pkg/httputil"
)

// SetupRoutes configures all routes. Everything under /api requires the
// internal secret; /health stays open for load balancer checks.
func SetupRoutes(h *Handlers, internalSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Internal-Secret"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireInternalSecret(internalSecret))

		r.Post("/classify", h.Classify)
		r.Post("/pipeline/drafts/run", h.RunDrafts)
		r.Post("/pipeline/qa/run", h.RunQA)
		r.Post("/pipeline/rewrite/run", h.RunRewrite)
		r.Post("/followups/run", h.RunFollowups)
		r.Post("/dispatch/run", h.RunDispatch)
	})

	return r
}

// requireInternalSecret rejects requests without the shared secret header.
func requireInternalSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if secret == "" || req.Header.Get("X-Internal-Secret") != secret {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
