package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"studio/internal/http/handlers"
	"studio/internal/middleware"
)

// Options tunes the cross-cutting middleware.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	limit := func(next http.Handler) http.Handler { return next }
	if opts.RateLimitPerMin > 0 {
		limit = middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
	}

	r.Route("/v1/segments", func(r chi.Router) {
		r.Use(limit)
		r.Get("/", app.ListSegments)
		r.Post("/", app.CreateSegment)
		r.Put("/", app.ImportSegments)
		r.Patch("/{id}", app.UpdateSegment)
		r.Delete("/{id}", app.DeleteSegment)
		r.Post("/{id}/move", app.MoveSegment)
	})

	r.Route("/v1/runs", func(r chi.Router) {
		// Event streams are long lived and stay outside the rate limit.
		r.Get("/{id}/events", app.RunEvents)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/", app.CreateRun)
			r.Get("/active", app.ActiveRun)
			r.Get("/{id}", app.GetRun)
			r.Post("/{id}/cancel", app.CancelRun)
		})
	})

	r.Route("/v1/assets", func(r chi.Router) {
		r.Use(limit)
		r.Get("/archive", app.DownloadArchive)
		r.Get("/{segment_id}", app.DownloadAsset)
	})

	return r
}
