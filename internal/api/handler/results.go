package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/api/response"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// Archiver streams a job's outputs as one archive.
type Archiver interface {
	Stream(ctx context.Context, w io.Writer, job *models.Job) error
}

// JobGetter loads a single job. The store satisfies it.
type JobGetter interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// NewDownloadResultsHandler returns GET /api/v1/jobs/{jobID}/results/download.
// Results exist once the analysis has finished; a non-terminal job answers
// 409 so clients poll instead of downloading a partial listing.
func NewDownloadResultsHandler(jobs JobGetter, archiver Archiver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !job.Analysis.Status.Terminal() {
			response.Error(w, http.StatusConflict, "RESULTS_NOT_READY",
				"The analysis has not finished yet", nil)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="results-`+job.ID.String()+`.zip"`)

		// Headers are committed once streaming starts; a mid-stream error
		// can only be logged and the connection cut short.
		if err := archiver.Stream(r.Context(), w, job); err != nil {
			logger.Error("result download aborted", "job_id", job.ID, "error", err)
		}
	}
}
