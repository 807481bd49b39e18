// Package orchestrator drives the analysis lifecycle: submission with
// deduplication, dependency-chain fan-out to the batch service, status
// reconciliation on poll, and retry of failed analyses.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/cache"
	"github.com/kiranshivaraju/batchflow/internal/dataset"
	"github.com/kiranshivaraju/batchflow/internal/objectstore"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/kiranshivaraju/batchflow/pkg/params"
)

const (
	// statusCacheTTL bounds how long a cached aggregate status can serve
	// dashboards before a fresh poll recomputes it.
	statusCacheTTL = 5 * time.Minute

	// backgroundTimeout caps the detached upload-and-submit work. Snapshot
	// uploads dominate this budget.
	backgroundTimeout = 30 * time.Minute
)

// Config carries the external names the orchestrator submits against.
type Config struct {
	JobQueue      string
	DatasetBucket string
	OutputBucket  string
}

// SubmitRequest is one user submission.
type SubmitRequest struct {
	Name          string
	DefinitionRef string
	DatasetID     string
	SnapshotID    string
	Parameters    *params.Map
}

// Service implements the engine's operations over the store, the cache, the
// batch service, the dataset service and the object store.
type Service struct {
	store    store.Store
	cache    cache.Cache
	batch    batch.API
	datasets dataset.Client
	objects  objectstore.Store
	cfg      Config
	logger   *slog.Logger
}

func NewService(st store.Store, c cache.Cache, api batch.API, ds dataset.Client, obj objectstore.Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		cache:    c,
		batch:    api,
		datasets: ds,
		objects:  obj,
		cfg:      cfg,
		logger:   logger,
	}
}

// Submit deduplicates and records a submission, answers immediately, and
// detaches the snapshot upload plus chain submission into the background.
// A failed record under the same natural key is redirected to Retry instead
// of creating a second record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	def, err := s.store.GetJobDefinitionByRef(ctx, req.DefinitionRef)
	if err != nil {
		return nil, fmt.Errorf("loading job definition: %w", err)
	}

	if req.Parameters == nil {
		req.Parameters = params.New()
	}

	// The content hash doubles as the dedup key component, so the export
	// must land before the dedup lookup, not in the background.
	datasetHash, err := s.datasets.ExportSnapshot(ctx, req.DatasetID, req.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("exporting snapshot: %w", err)
	}

	key := store.JobKey{
		DefinitionRef:  def.ExternalRef,
		DatasetHash:    datasetHash,
		ParametersHash: req.Parameters.Hash(),
		SnapshotID:     req.SnapshotID,
	}

	existing, err := s.store.FindJobByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deduplication lookup: %w", err)
	}
	if existing != nil {
		if existing.Analysis.Status == models.StatusFailed {
			return s.Retry(ctx, existing.ID)
		}
		return nil, fmt.Errorf("%w: job %s", ErrDuplicateSubmission, existing.ID)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		Name:           req.Name,
		DefinitionRef:  def.ExternalRef,
		DatasetID:      req.DatasetID,
		SnapshotID:     req.SnapshotID,
		DatasetHash:    datasetHash,
		ParametersHash: key.ParametersHash,
		Parameters:     req.Parameters.Clone(),
		Analysis: models.Analysis{
			AnalysisID: uuid.New(),
			Status:     models.StatusUploading,
			Attempts:   0,
			CreatedAt:  now,
		},
		CreatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		// A racing submission with the same key lost to us at the partial
		// unique index.
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrDuplicateSubmission
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.detach("submit", job.ID, func(ctx context.Context) error {
		if err := s.uploadSnapshot(ctx, job); err != nil {
			return err
		}
		ids, err := s.submitChain(ctx, job, def)
		if err != nil {
			return err
		}
		return s.store.UpdateAnalysis(ctx, job.ID,
			store.WithStatus(models.StatusPending),
			store.WithAttempts(1),
			store.WithBatchJobs(ids),
			store.WithUploadComplete(true))
	})

	return job, nil
}

// Retry resubmits a failed analysis using the stored parameters. The snapshot
// upload is skipped when a previous attempt already completed it.
func (s *Service) Retry(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Analysis.Status.Retryable() {
		return nil, fmt.Errorf("%w: status is %s", ErrRetryNotSupported, job.Analysis.Status)
	}

	def, err := s.store.GetJobDefinitionByRef(ctx, job.DefinitionRef)
	if err != nil {
		return nil, fmt.Errorf("loading job definition: %w", err)
	}

	// Leave FAILED synchronously so concurrent submissions stop redirecting
	// here while the new attempt is in flight.
	if err := s.store.UpdateAnalysis(ctx, job.ID, store.WithStatus(models.StatusUploading)); err != nil {
		return nil, fmt.Errorf("resetting analysis: %w", err)
	}
	job.Analysis.Status = models.StatusUploading
	attempt := job.Analysis.Attempts + 1

	s.detach("retry", job.ID, func(ctx context.Context) error {
		if !job.UploadComplete {
			if err := s.uploadSnapshot(ctx, job); err != nil {
				return err
			}
		}
		ids, err := s.submitChain(ctx, job, def)
		if err != nil {
			return err
		}
		return s.store.UpdateAnalysis(ctx, job.ID,
			store.WithStatus(models.StatusPending),
			store.WithAttempts(attempt),
			store.WithBatchJobs(ids),
			store.WithUploadComplete(true))
	})

	return job, nil
}

// uploadSnapshot streams the snapshot archive into the dataset bucket. The
// key is content-addressed, so an archive already present from an earlier
// submission of the same snapshot content is reused as-is.
func (s *Service) uploadSnapshot(ctx context.Context, job *models.Job) error {
	key := job.DatasetHash + "/snapshot.tar.gz"

	existing, err := s.objects.ListPrefix(ctx, s.cfg.DatasetBucket, job.DatasetHash+"/")
	if err == nil && len(existing) > 0 {
		s.logger.Info("snapshot already uploaded", "job_id", job.ID, "dataset_hash", job.DatasetHash)
		return nil
	}

	body, size, err := s.datasets.OpenSnapshot(ctx, job.DatasetID, job.SnapshotID)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer body.Close()

	if err := s.objects.Upload(ctx, s.cfg.DatasetBucket, key, body, size); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}

	s.logger.Info("snapshot uploaded", "job_id", job.ID, "key", key, "size", size)
	return nil
}

// detach runs fn on its own context with panic recovery. Errors after the
// caller has been answered can only be logged; the record keeps whatever
// status it had.
func (s *Service) detach(task string, jobID uuid.UUID, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", task, "job_id", jobID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Error("background task failed", "task", task, "job_id", jobID, "error", err)
		}
	}()
}
