package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Steward/internal/store"
)

const maxRequestBytes = 1 << 20

func NewRouter(s store.Store, learning *LearningHandler, adminToken string, rateLimit int, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(rateLimit))
	r.Use(chiMiddleware.RequestSize(maxRequestBytes))

	admin := NewAdminHandler(s)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/learning", learning.Handle)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Get("/users/{user_id}/rules", admin.Rules)
			r.Get("/users/{user_id}/autonomy", admin.Autonomy)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
