package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/api/response"
	"github.com/kiranshivaraju/batchflow/internal/orchestrator"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/kiranshivaraju/batchflow/pkg/params"
)

// Orchestrator is the lifecycle surface the job handlers depend on.
type Orchestrator interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*models.Job, error)
	Poll(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// JobStore is the read/delete surface for dataset job collections.
type JobStore interface {
	ListJobsByDataset(ctx context.Context, datasetID string) ([]*models.Job, error)
	SoftDeleteDatasetJobs(ctx context.Context, datasetID string) error
}

type submitJobRequest struct {
	Name          string      `json:"name"`
	DefinitionRef string      `json:"definition_ref"`
	SnapshotID    string      `json:"snapshot_id"`
	Parameters    *params.Map `json:"parameters"`
}

// NewSubmitJobHandler returns POST /api/v1/datasets/{datasetID}/jobs.
// Answers 202: the snapshot upload and chain submission continue in the
// background while the client polls.
func NewSubmitJobHandler(svc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		datasetID := chi.URLParam(r, "datasetID")

		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.DefinitionRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "definition_ref is required", nil)
			return
		}
		if req.SnapshotID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "snapshot_id is required", nil)
			return
		}

		job, err := svc.Submit(r.Context(), orchestrator.SubmitRequest{
			Name:          req.Name,
			DefinitionRef: req.DefinitionRef,
			DatasetID:     datasetID,
			SnapshotID:    req.SnapshotID,
			Parameters:    req.Parameters,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Accepted(w, job)
	}
}

// NewListJobsHandler returns GET /api/v1/datasets/{datasetID}/jobs.
func NewListJobsHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		datasetID := chi.URLParam(r, "datasetID")

		list, err := jobs.ListJobsByDataset(r.Context(), datasetID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}
		response.JSON(w, list)
	}
}

// NewDeleteJobsHandler returns DELETE /api/v1/datasets/{datasetID}/jobs.
// Jobs are soft-deleted; already-submitted external jobs keep running.
func NewDeleteJobsHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		datasetID := chi.URLParam(r, "datasetID")

		if err := jobs.SoftDeleteDatasetJobs(r.Context(), datasetID); err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, map[string]string{"dataset_id": datasetID, "status": "deleted"})
	}
}

// NewPollJobHandler returns GET /api/v1/datasets/{datasetID}/jobs/{jobID}.
// Every poll is also the tick that advances the analysis state machine.
func NewPollJobHandler(svc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.Poll(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewRetryJobHandler returns POST /api/v1/datasets/{datasetID}/jobs/{jobID}/retry.
func NewRetryJobHandler(svc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.Retry(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}
