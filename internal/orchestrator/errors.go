package orchestrator

import "errors"

var (
	// ErrDuplicateSubmission means a non-failed job already exists for the
	// same definition, snapshot and parameters.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrMissingSubjectList means a parallel analysis level was reached with
	// no participant_label parameter to fan out over.
	ErrMissingSubjectList = errors.New("parallel level requires a participant_label list")

	// ErrRetryNotSupported means retry was requested on a record that is not
	// in the FAILED state.
	ErrRetryNotSupported = errors.New("only failed analyses can be retried")
)
