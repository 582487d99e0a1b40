package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"teamshots/internal/http/handlers"
	"teamshots/internal/middleware"
)

type Options struct {
	// OperatorToken protects every route except the health check.
	OperatorToken string
	// WriteLimit caps mutating requests per client per minute; 0 disables.
	WriteLimit int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OperatorToken(opts.OperatorToken))

		r.Route("/v1/generations", func(r chi.Router) {
			r.With(writeLimit(opts.WriteLimit)).Post("/", app.CreateGeneration)
			r.Get("/{id}", app.GetGeneration)
			r.With(writeLimit(opts.WriteLimit)).Post("/{id}/cancel", app.CancelGeneration)
		})
		r.Get("/v1/ledger/{ownerType}/{ownerId}", app.LedgerSummary)
	})

	return r
}

func writeLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(perMinute, time.Minute)
}
