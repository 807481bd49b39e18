package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// JobKey is the natural key of a submission: at most one non-FAILED job may
// exist per key. The deduplicator looks records up by it before insertion.
type JobKey struct {
	DefinitionRef  string
	DatasetHash    string
	ParametersHash string
	SnapshotID     string
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJobDefinition(ctx context.Context, def *models.JobDefinition) error
	GetJobDefinitionByRef(ctx context.Context, ref string) (*models.JobDefinition, error)
	ListJobDefinitions(ctx context.Context) ([]*models.JobDefinition, error)
	DisableJobDefinition(ctx context.Context, name string) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindJobByKey(ctx context.Context, key JobKey) (*models.Job, error)
	ListJobsByDataset(ctx context.Context, datasetID string) ([]*models.Job, error)
	SoftDeleteDatasetJobs(ctx context.Context, datasetID string) error

	UpdateAnalysis(ctx context.Context, id uuid.UUID, opts ...AnalysisUpdateOption) error
	// UpdateAnalysisResults writes the final status and result listing in one
	// update. It only applies while the record is non-terminal, so racing
	// polls computing the same terminal state are redundant-safe; the return
	// value reports whether this call was the one that landed.
	UpdateAnalysisResults(ctx context.Context, id uuid.UUID, status models.Status, results []models.ResultEntry) (bool, error)
}

type analysisUpdateParams struct {
	Status         *models.Status
	Attempts       *int
	BatchJobs      []string
	UploadComplete *bool
}

type AnalysisUpdateOption func(*analysisUpdateParams)

func WithStatus(s models.Status) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.Status = &s
	}
}

func WithAttempts(n int) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.Attempts = &n
	}
}

func WithBatchJobs(ids []string) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.BatchJobs = ids
	}
}

func WithUploadComplete(done bool) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.UploadComplete = &done
	}
}

// ApplyAnalysisUpdate applies opts to a job in place. In-memory store
// implementations use it to mirror what the SQL update does.
func ApplyAnalysisUpdate(job *models.Job, opts ...AnalysisUpdateOption) {
	var p analysisUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	if p.Status != nil {
		job.Analysis.Status = *p.Status
	}
	if p.Attempts != nil {
		job.Analysis.Attempts = *p.Attempts
	}
	if p.BatchJobs != nil {
		job.Analysis.BatchJobs = p.BatchJobs
	}
	if p.UploadComplete != nil {
		job.UploadComplete = *p.UploadComplete
	}
}
