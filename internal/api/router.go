package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/batchflow/internal/api/middleware"
	"github.com/kiranshivaraju/batchflow/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	ListDefinitionsHandler    http.HandlerFunc
	RegisterDefinitionHandler http.HandlerFunc
	DisableDefinitionHandler  http.HandlerFunc

	SubmitJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	DeleteJobsHandler http.HandlerFunc
	PollJobHandler    http.HandlerFunc
	RetryJobHandler   http.HandlerFunc

	DownloadResultsHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/definitions", orNotImplemented(deps.ListDefinitionsHandler))

		r.Post("/api/v1/datasets/{datasetID}/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/datasets/{datasetID}/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Delete("/api/v1/datasets/{datasetID}/jobs", orNotImplemented(deps.DeleteJobsHandler))
		r.Get("/api/v1/datasets/{datasetID}/jobs/{jobID}", orNotImplemented(deps.PollJobHandler))
		r.Post("/api/v1/datasets/{datasetID}/jobs/{jobID}/retry", orNotImplemented(deps.RetryJobHandler))

		r.Get("/api/v1/jobs/{jobID}/results/download", orNotImplemented(deps.DownloadResultsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/definitions", orNotImplemented(deps.RegisterDefinitionHandler))
			r.Delete("/api/v1/definitions/{name}", orNotImplemented(deps.DisableDefinitionHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
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
