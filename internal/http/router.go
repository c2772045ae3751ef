package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"productshot/internal/http/handlers"
	"productshot/internal/middleware"
	"productshot/internal/telemetry"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(app.Config.CORSAllowedOrigins))

	// Health and operational surface, no auth.
	r.Get("/v1/healthz", app.Health)
	r.Method(stdhttp.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		// Inbound contract with the external editing workflow.
		r.Post("/webhook/callback", app.Callback)

		// External-scheduler entry point for the staleness sweep.
		r.Get("/cron/sweep-stale", app.SweepStale)

		// Authenticated API.
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(app.Config.JWTSecret))
			r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", app.CreateJob)
				r.Get("/", app.ListJobs)
				r.Get("/{id}", app.GetJob)
				r.Post("/{id}/retry", app.RetryJob)
				r.Get("/{id}/download", app.DownloadOutputs)
			})

			r.Get("/prompts/presets", app.ListPresets)
			r.Route("/prompts/custom", func(r chi.Router) {
				r.Get("/", app.ListCustomPrompts)
				r.Post("/", app.CreateCustomPrompt)
				r.Patch("/{id}", app.UpdateCustomPrompt)
				r.Delete("/{id}", app.DeleteCustomPrompt)
			})

			r.Get("/stats", app.Stats)
		})
	})

	// Locally stored uploads, served when the local storage backend is active.
	if app.Config.StorageBackend == "local" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(app.Config.StoragePath)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
