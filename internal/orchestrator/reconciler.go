package orchestrator

import (
	"context"
	"path"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// Poll reconciles a job's stored status against the batch service. The
// engine has no background loop; every client poll is the tick that advances
// the state machine.
//
// Terminal records and records with no submitted batch jobs come back
// unchanged. A DescribeJobs failure degrades to a no-op poll: the stored
// record is returned and nothing advances. While any sub-job is active the
// aggregate is RUNNING. Once every sub-job is terminal the caller is told
// COMPLETING while the final status and the result listing are persisted in
// a single conditional write, so concurrent polls computing the same outcome
// are redundant and later polls return the stored terminal record without
// ever re-listing the output bucket.
func (s *Service) Poll(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Analysis.Status.Terminal() || len(job.Analysis.BatchJobs) == 0 {
		return job, nil
	}

	summaries, err := s.batch.DescribeJobs(ctx, job.Analysis.BatchJobs)
	if err != nil {
		s.logger.Warn("describe jobs failed, poll is a no-op", "job_id", job.ID, "error", err)
		return job, nil
	}

	anyActive := false
	anyFailed := false
	for _, sum := range summaries {
		if sum.Active() {
			anyActive = true
		} else if sum.Status == batch.ExternalStatusFailed {
			anyFailed = true
		}
	}
	// The batch service prunes finished jobs after a retention window; an
	// ID it no longer reports cannot be confirmed successful.
	if len(summaries) < len(job.Analysis.BatchJobs) {
		anyFailed = true
	}

	if anyActive {
		return s.markRunning(ctx, job)
	}

	final := models.StatusSucceeded
	if anyFailed {
		final = models.StatusFailed
	}
	return s.finalize(ctx, job, final)
}

func (s *Service) markRunning(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job.Analysis.Status != models.StatusRunning {
		if err := s.store.UpdateAnalysis(ctx, job.ID, store.WithStatus(models.StatusRunning)); err != nil {
			return nil, err
		}
		job.Analysis.Status = models.StatusRunning
	}
	s.cacheStatus(ctx, job.ID, models.StatusRunning)
	return job, nil
}

// finalize lists the output bucket, persists the listing with the final
// status, and reports COMPLETING to the caller. When listing fails the
// terminal write is deferred to a later poll rather than persisting a
// terminal status with no results.
func (s *Service) finalize(ctx context.Context, job *models.Job, final models.Status) (*models.Job, error) {
	entries, err := s.listResults(ctx, job)
	if err != nil {
		s.logger.Warn("listing results failed, deferring terminal write", "job_id", job.ID, "error", err)
		job.Analysis.Status = models.StatusCompleting
		return job, nil
	}

	applied, err := s.store.UpdateAnalysisResults(ctx, job.ID, final, entries)
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("analysis finalized", "job_id", job.ID, "status", final, "results", len(entries))
	}
	s.cacheStatus(ctx, job.ID, final)

	job.Analysis.Status = models.StatusCompleting
	job.Results = entries
	return job, nil
}

func (s *Service) listResults(ctx context.Context, job *models.Job) ([]models.ResultEntry, error) {
	objects, err := s.objects.ListPrefix(ctx, s.cfg.OutputBucket, job.ResultPrefix())
	if err != nil {
		return nil, err
	}

	entries := make([]models.ResultEntry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, models.ResultEntry{
			Key:  obj.Key,
			Name: path.Base(obj.Key),
			Path: obj.Key,
		})
	}
	return entries, nil
}

// cacheStatus is best-effort observability state; a cache failure never
// fails a poll.
func (s *Service) cacheStatus(ctx context.Context, jobID uuid.UUID, status models.Status) {
	if err := s.cache.SetAnalysisStatus(ctx, jobID, status, statusCacheTTL); err != nil {
		s.logger.Warn("caching analysis status failed", "job_id", jobID, "error", err)
	}
}
