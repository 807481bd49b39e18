package orchestrator

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/kiranshivaraju/batchflow/pkg/params"
	"golang.org/x/sync/errgroup"
)

// subjectParam is the parameter naming the subjects a parallel level fans
// out over.
const subjectParam = "participant_label"

// submitChain walks the definition's analysis levels in order and submits one
// wave per level. Every job in a wave depends on every job of all previous
// waves, so the batch service will not start a level before the prior one has
// finished. Returns the external IDs of all submitted jobs, in wave order.
// Any submission error aborts the chain; nothing is persisted here.
func (s *Service) submitChain(ctx context.Context, job *models.Job, def *models.JobDefinition) ([]string, error) {
	var all []string
	var deps []string

	for _, level := range def.AnalysisLevels {
		var wave []string
		var err error
		if level.Parallel {
			wave, err = s.submitParallel(ctx, job, def, level, deps)
		} else {
			wave, err = s.submitSerial(ctx, job, def, level, deps)
		}
		if err != nil {
			return nil, fmt.Errorf("level %q: %w", level.Name, err)
		}

		all = append(all, wave...)
		deps = append([]string(nil), all...)
	}

	s.logger.Info("chain submitted",
		"job_id", job.ID,
		"levels", len(def.AnalysisLevels),
		"batch_jobs", len(all))

	return all, nil
}

func (s *Service) submitSerial(ctx context.Context, job *models.Job, def *models.JobDefinition, level models.AnalysisLevel, deps []string) ([]string, error) {
	id, err := s.batch.SubmitJob(ctx, batch.SubmitRequest{
		Name:        waveJobName(def.Name, level.Name, job.Analysis.AnalysisID.String(), ""),
		Definition:  job.DefinitionRef,
		Queue:       s.cfg.JobQueue,
		DependsOn:   deps,
		Environment: s.jobEnv(job, level.Name, job.Parameters),
	})
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// submitParallel fans out one submission per subject. Each carries the
// parameters reduced to that single subject; the full list never reaches an
// individual container.
func (s *Service) submitParallel(ctx context.Context, job *models.Job, def *models.JobDefinition, level models.AnalysisLevel, deps []string) ([]string, error) {
	subjects, ok := job.Parameters.StringSlice(subjectParam)
	if !ok || len(subjects) == 0 {
		return nil, ErrMissingSubjectList
	}

	ids := make([]string, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	for i, subject := range subjects {
		g.Go(func() error {
			reduced := job.Parameters.WithValue(subjectParam, []any{subject})
			id, err := s.batch.SubmitJob(gctx, batch.SubmitRequest{
				Name:        waveJobName(def.Name, level.Name, job.Analysis.AnalysisID.String(), subject),
				Definition:  job.DefinitionRef,
				Queue:       s.cfg.JobQueue,
				DependsOn:   deps,
				Environment: s.jobEnv(job, level.Name, reduced),
			})
			if err != nil {
				return fmt.Errorf("subject %s: %w", subject, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// jobEnv builds the per-submission environment. The bucket entries live on
// the registered definition; everything submission-specific travels as a
// container override. Built fresh per call so concurrent fan-out submissions
// never share a slice.
func (s *Service) jobEnv(job *models.Job, level string, p *params.Map) []models.EnvVar {
	return []models.EnvVar{
		{Name: "BATCHFLOW_SNAPSHOT_HASH", Value: job.DatasetHash},
		{Name: "BATCHFLOW_ANALYSIS_ID", Value: job.Analysis.AnalysisID.String()},
		{Name: "BATCHFLOW_ANALYSIS_LEVEL", Value: level},
		{Name: "BATCHFLOW_ARGUMENTS", Value: params.Arguments(p)},
	}
}

// waveJobName builds the external job name. The batch service only accepts
// letters, digits, hyphens and underscores, so anything else is mapped to a
// hyphen.
func waveJobName(definition, level, analysisID, subject string) string {
	name := definition + "-" + level + "-" + analysisID
	if subject != "" {
		name += "-sub-" + subject
	}

	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out[i] = c
		default:
			out[i] = '-'
		}
	}

	// External limit is 128 characters.
	if len(out) > 128 {
		out = out[:128]
	}
	return string(out)
}
