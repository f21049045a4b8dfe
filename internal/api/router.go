package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kwen1510/CODEX-HACKATHON/internal/api/middleware"
	"github.com/kwen1510/CODEX-HACKATHON/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	UploadHandler http.HandlerFunc
	ListHandler   http.HandlerFunc
	GetHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/worksheets", orNotImplemented(deps.UploadHandler))
		r.Get("/api/worksheets", orNotImplemented(deps.ListHandler))
		r.Get("/api/worksheets/{worksheetID}", orNotImplemented(deps.GetHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
