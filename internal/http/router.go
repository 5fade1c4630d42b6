package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"clearcut/internal/http/handlers"
	"clearcut/internal/infra/geoip"
	"clearcut/internal/middleware"
)

// RouterOptions carries the cross-cutting dependencies of the HTTP surface.
type RouterOptions struct {
	CORSOrigins     []string
	RateLimitPerMin int
	Countries       geoip.CountryResolver
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Log, opts.Countries))
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	r.Get("/health", app.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(app.Ledger, app.Log))

		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Use(middleware.Admit(app.Ledger, app.Log))
			r.Post("/remove-bg", app.RemoveBackground)
			r.Post("/remove-bg/batch", app.RemoveBackgroundBatch)
			r.Post("/remove-watermark", app.RemoveWatermark)
		})

		r.Get("/status/{job_id}", app.JobStatus)
		r.Delete("/jobs/{job_id}", app.DeleteJob)

		r.Get("/download/{job_id}", app.DownloadJobArchive)
		r.Get("/download/{job_id}/{image_id}", app.DownloadImage)

		r.Post("/generate-key", app.GenerateKey)
		r.Get("/usage", app.Usage)
		r.Post("/rotate-key", app.RotateKey)
		r.Post("/revoke-key", app.RevokeKey)
		r.Post("/upgrade-key", app.UpgradeKey)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", app.AdminStats)
			r.Get("/jobs", app.AdminJobs)
		})
	})

	return r
}
