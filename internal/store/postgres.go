package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/kiranshivaraju/batchflow/pkg/params"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Job Definitions ---

func (s *PostgresStore) CreateJobDefinition(ctx context.Context, def *models.JobDefinition) error {
	levels, err := json.Marshal(def.AnalysisLevels)
	if err != nil {
		return fmt.Errorf("encode analysis levels: %w", err)
	}
	env, err := json.Marshal(def.Environment)
	if err != nil {
		return fmt.Errorf("encode environment: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_definitions (id, name, revision, external_ref, image, vcpus, memory_mib, analysis_levels, environment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		def.ID, def.Name, def.Revision, def.ExternalRef, def.Image,
		def.VCPUs, def.MemoryMiB, string(levels), string(env), def.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobDefinitionByRef(ctx context.Context, ref string) (*models.JobDefinition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, revision, external_ref, image, vcpus, memory_mib, analysis_levels, environment, deleted_at, created_at
		 FROM job_definitions WHERE external_ref = $1 AND deleted_at IS NULL`, ref)
	return scanJobDefinition(row)
}

func (s *PostgresStore) ListJobDefinitions(ctx context.Context) ([]*models.JobDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, revision, external_ref, image, vcpus, memory_mib, analysis_levels, environment, deleted_at, created_at
		 FROM job_definitions WHERE deleted_at IS NULL ORDER BY name, revision`)
	if err != nil {
		return nil, fmt.Errorf("list job definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.JobDefinition
	for rows.Next() {
		def, err := scanJobDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) DisableJobDefinition(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_definitions SET deleted_at = NOW() WHERE name = $1 AND deleted_at IS NULL`, name)
	if err != nil {
		return fmt.Errorf("disable job definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJobDefinition(row pgx.Row) (*models.JobDefinition, error) {
	var d models.JobDefinition
	var levels, env []byte
	err := row.Scan(&d.ID, &d.Name, &d.Revision, &d.ExternalRef, &d.Image,
		&d.VCPUs, &d.MemoryMiB, &levels, &env, &d.DeletedAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job definition: %w", err)
	}
	if err := json.Unmarshal(levels, &d.AnalysisLevels); err != nil {
		return nil, fmt.Errorf("decode analysis levels: %w", err)
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &d.Environment); err != nil {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
	}
	return &d, nil
}

// --- Jobs ---

const jobColumns = `id, name, definition_ref, dataset_id, snapshot_id, dataset_hash, parameters_hash,
	parameters, analysis_id, status, attempts, batch_jobs, results, upload_complete,
	analysis_created_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	// A nil slice would encode as NULL; the column is NOT NULL.
	batchJobs := job.Analysis.BatchJobs
	if batchJobs == nil {
		batchJobs = []string{}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, definition_ref, dataset_id, snapshot_id, dataset_hash, parameters_hash,
		                   parameters, analysis_id, status, attempts, batch_jobs, upload_complete,
		                   analysis_created_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.Name, job.DefinitionRef, job.DatasetID, job.SnapshotID,
		job.DatasetHash, job.ParametersHash, string(paramsJSON),
		job.Analysis.AnalysisID, string(job.Analysis.Status), job.Analysis.Attempts,
		batchJobs, job.UploadComplete, job.Analysis.CreatedAt,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanJob(row)
}

func (s *PostgresStore) FindJobByKey(ctx context.Context, key JobKey) (*models.Job, error) {
	// Several FAILED records may share a key; prefer the most recent one so
	// the retry redirect targets the latest attempt.
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE definition_ref = $1 AND dataset_hash = $2 AND parameters_hash = $3 AND snapshot_id = $4
		   AND deleted_at IS NULL
		 ORDER BY (status <> 'FAILED') DESC, created_at DESC
		 LIMIT 1`,
		key.DefinitionRef, key.DatasetHash, key.ParametersHash, key.SnapshotID)
	return scanJob(row)
}

func (s *PostgresStore) ListJobsByDataset(ctx context.Context, datasetID string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE dataset_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by dataset: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) SoftDeleteDatasetJobs(ctx context.Context, datasetID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET deleted_at = NOW(), updated_at = NOW()
		 WHERE dataset_id = $1 AND deleted_at IS NULL`, datasetID)
	if err != nil {
		return fmt.Errorf("soft delete dataset jobs: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAnalysis(ctx context.Context, id uuid.UUID, opts ...AnalysisUpdateOption) error {
	p := &analysisUpdateParams{}
	for _, opt := range opts {
		opt(p)
	}

	now := time.Now().UTC()
	sets := []string{"updated_at = $2"}
	args := []any{id, now}
	argIdx := 3

	if p.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*p.Status))
		argIdx++
	}
	if p.Attempts != nil {
		sets = append(sets, fmt.Sprintf("attempts = $%d", argIdx))
		args = append(args, *p.Attempts)
		argIdx++
	}
	if p.BatchJobs != nil {
		sets = append(sets, fmt.Sprintf("batch_jobs = $%d", argIdx))
		args = append(args, p.BatchJobs)
		argIdx++
	}
	if p.UploadComplete != nil {
		sets = append(sets, fmt.Sprintf("upload_complete = $%d", argIdx))
		args = append(args, *p.UploadComplete)
		argIdx++
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = $1 AND deleted_at IS NULL"
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateAnalysisResults(ctx context.Context, id uuid.UUID, status models.Status, results []models.ResultEntry) (bool, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("encode results: %w", err)
	}

	// Applies only while non-terminal: the first poll to compute a terminal
	// aggregate wins, concurrent polls become no-ops.
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, results = $3, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('SUCCEEDED', 'FAILED') AND deleted_at IS NULL`,
		id, string(status), string(resultsJSON))
	if err != nil {
		return false, fmt.Errorf("update analysis results: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var paramsJSON, resultsJSON []byte
	var status string
	err := row.Scan(&j.ID, &j.Name, &j.DefinitionRef, &j.DatasetID, &j.SnapshotID,
		&j.DatasetHash, &j.ParametersHash, &paramsJSON,
		&j.Analysis.AnalysisID, &status, &j.Analysis.Attempts, &j.Analysis.BatchJobs,
		&resultsJSON, &j.UploadComplete, &j.Analysis.CreatedAt,
		&j.DeletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Analysis.Status = models.Status(status)
	if !j.Analysis.Status.Valid() {
		return nil, fmt.Errorf("job %s has unknown status %q", j.ID, status)
	}

	j.Parameters = params.New()
	if err := json.Unmarshal(paramsJSON, j.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &j.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
