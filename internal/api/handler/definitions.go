package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/batchflow/internal/api/response"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// Registrar is the job-definition surface the handlers depend on.
type Registrar interface {
	Register(ctx context.Context, def *models.JobDefinition) error
	Disable(ctx context.Context, name string) error
}

// DefinitionLister lists registered definitions. The store satisfies it.
type DefinitionLister interface {
	ListJobDefinitions(ctx context.Context) ([]*models.JobDefinition, error)
}

// NewListDefinitionsHandler returns GET /api/v1/definitions.
func NewListDefinitionsHandler(lister DefinitionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs, err := lister.ListJobDefinitions(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if defs == nil {
			defs = []*models.JobDefinition{}
		}
		response.JSON(w, defs)
	}
}

type registerDefinitionRequest struct {
	Name           string                 `json:"name"`
	Image          string                 `json:"image"`
	VCPUs          int32                  `json:"vcpus"`
	MemoryMiB      int32                  `json:"memory_mib"`
	AnalysisLevels []models.AnalysisLevel `json:"analysis_levels"`
	Environment    []models.EnvVar        `json:"environment"`
}

// NewRegisterDefinitionHandler returns POST /api/v1/definitions (admin).
func NewRegisterDefinitionHandler(registrar Registrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerDefinitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		def := &models.JobDefinition{
			Name:           req.Name,
			Image:          req.Image,
			VCPUs:          req.VCPUs,
			MemoryMiB:      req.MemoryMiB,
			AnalysisLevels: req.AnalysisLevels,
			Environment:    req.Environment,
		}
		if err := registrar.Register(r.Context(), def); err != nil {
			writeServiceError(w, err)
			return
		}

		response.Created(w, def)
	}
}

// NewDisableDefinitionHandler returns DELETE /api/v1/definitions/{name} (admin).
func NewDisableDefinitionHandler(registrar Registrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		if err := registrar.Disable(r.Context(), name); err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, map[string]string{"name": name, "status": "disabled"})
	}
}
