// Package batch is the client layer for the external batch-execution
// service. The orchestrator depends on the narrow API interface; the AWS
// Batch implementation lives in aws.go.
package batch

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// ErrInvalidResourceRequest is returned when a definition's resource request
// exceeds the configured ceilings. Rejected before any external call.
var ErrInvalidResourceRequest = errors.New("requested resources exceed configured ceilings")

// External job states as reported by the batch service. Anything else
// (SUBMITTED, PENDING, RUNNABLE, STARTING, RUNNING) counts as still active.
const (
	ExternalStatusSucceeded = "SUCCEEDED"
	ExternalStatusFailed    = "FAILED"
)

// SubmitRequest describes one batch job submission. DependsOn carries the
// external identifiers of jobs this one must wait for.
type SubmitRequest struct {
	Name        string
	Definition  string
	Queue       string
	DependsOn   []string
	Environment []models.EnvVar
}

// JobSummary is the live state of one external job.
type JobSummary struct {
	ID     string
	Status string
}

// Active reports whether the job has not yet reached a terminal external state.
func (j JobSummary) Active() bool {
	return j.Status != ExternalStatusSucceeded && j.Status != ExternalStatusFailed
}

// API is the set of batch-service operations the engine consumes.
type API interface {
	RegisterJobDefinition(ctx context.Context, def *models.JobDefinition) (ref string, revision int32, err error)
	DeregisterJobDefinition(ctx context.Context, ref string) error
	SubmitJob(ctx context.Context, req SubmitRequest) (string, error)
	DescribeJobs(ctx context.Context, ids []string) ([]JobSummary, error)
}
