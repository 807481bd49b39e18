package handler

import (
	"errors"
	"net/http"

	"github.com/kiranshivaraju/batchflow/internal/api/response"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/orchestrator"
	"github.com/kiranshivaraju/batchflow/internal/store"
)

// writeServiceError maps engine errors to HTTP responses. Anything not
// recognized is a 500 with no internals leaked.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND",
			"The requested resource does not exist", nil)
	case errors.Is(err, batch.ErrInvalidResourceRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_RESOURCE_REQUEST",
			"Requested resources exceed the configured ceilings", nil)
	case errors.Is(err, batch.ErrInvalidDefinition):
		response.Error(w, http.StatusBadRequest, "INVALID_DEFINITION",
			err.Error(), nil)
	case errors.Is(err, orchestrator.ErrDuplicateSubmission):
		response.Error(w, http.StatusConflict, "DUPLICATE_SUBMISSION",
			"A job with the same definition, snapshot and parameters already exists", nil)
	case errors.Is(err, orchestrator.ErrMissingSubjectList):
		response.Error(w, http.StatusUnprocessableEntity, "MISSING_SUBJECT_LIST",
			"A parallel analysis level requires a participant_label parameter", nil)
	case errors.Is(err, orchestrator.ErrRetryNotSupported):
		response.Error(w, http.StatusConflict, "RETRY_NOT_SUPPORTED",
			"Only failed analyses can be retried", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
