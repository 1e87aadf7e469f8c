package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// RateLimitPerMinute bounds requests per IP and endpoint under /api.
	// Zero disables limiting.
	RateLimitPerMinute int
	// Media, when set, is served under /media/ (filesystem blob backend).
	Media blob.Store
}

// NewRouter wires every route of the service.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// User auth
	r.Get("/auth/{provider}", h.BeginAuth)
	r.Get("/auth/{provider}/callback", h.UserLogin)
	r.Post("/logout/{provider}", h.Logout)

	// Public expiring links
	r.Get("/links/{token}", h.ResolveLink)

	if opts.Media != nil {
		r.Get("/media/*", h.ServeMedia(opts.Media))
	}

	// Available API routes for authenticated users
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		if opts.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				opts.RateLimitPerMinute,
				1*time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
			))
		}
		r.Get("/user", h.GetUser)

		r.Post("/images", h.UploadImage)
		r.Get("/images", h.ListImages)
		r.Get("/images/{id}", h.GetImage)
		r.Delete("/images/{id}", h.DeleteImage)

		r.Post("/links", h.CreateLink)
		r.Get("/links", h.ListLinks)
	})

	return r
}
