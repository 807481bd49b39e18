package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/kiranshivaraju/batchflow/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("batchflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func testParams(t *testing.T) *params.Map {
	t.Helper()
	m := params.New()
	require.NoError(t, json.Unmarshal(
		[]byte(`{"participant_label": ["01","02"], "task": "rest"}`), m))
	return m
}

func testJob(t *testing.T) *models.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := testParams(t)
	return &models.Job{
		ID:             uuid.New(),
		Name:           "fmriprep-run",
		DefinitionRef:  "fmriprep:3",
		DatasetID:      "ds000001",
		SnapshotID:     "snap-1",
		DatasetHash:    "abc123",
		ParametersHash: p.Hash(),
		Parameters:     p,
		Analysis: models.Analysis{
			AnalysisID: uuid.New(),
			Status:     models.StatusUploading,
			Attempts:   0,
			CreatedAt:  now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestJobDefinitionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	def := &models.JobDefinition{
		ID:          uuid.New(),
		Name:        "fmriprep",
		Revision:    3,
		ExternalRef: "fmriprep:3",
		Image:       "nipreps/fmriprep:24.0.0",
		VCPUs:       4,
		MemoryMiB:   16384,
		AnalysisLevels: []models.AnalysisLevel{
			{Name: "participant", Parallel: true},
			{Name: "group", Parallel: false},
		},
		Environment: []models.EnvVar{{Name: "TEMPLATEFLOW_HOME", Value: "/templates"}},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateJobDefinition(ctx, def))

	got, err := s.GetJobDefinitionByRef(ctx, "fmriprep:3")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.AnalysisLevels, got.AnalysisLevels)
	assert.Equal(t, def.Environment, got.Environment)

	// Same external ref is a duplicate
	dup := *def
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateJobDefinition(ctx, &dup), store.ErrDuplicateKey)

	defs, err := s.ListJobDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	require.NoError(t, s.DisableJobDefinition(ctx, "fmriprep"))
	_, err = s.GetJobDefinitionByRef(ctx, "fmriprep:3")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DisableJobDefinition(ctx, "fmriprep"), store.ErrNotFound)
}

func TestCreateAndGetJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.StatusUploading, got.Analysis.Status)
	assert.Equal(t, job.Analysis.AnalysisID, got.Analysis.AnalysisID)
	assert.Equal(t, job.ParametersHash, got.Parameters.Hash())
	assert.Empty(t, got.Analysis.BatchJobs)
	assert.Nil(t, got.Results)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindJobByKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, s.CreateJob(ctx, job))

	key := store.JobKey{
		DefinitionRef:  job.DefinitionRef,
		DatasetHash:    job.DatasetHash,
		ParametersHash: job.ParametersHash,
		SnapshotID:     job.SnapshotID,
	}
	found, err := s.FindJobByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	key.DatasetHash = "other"
	_, err = s.FindJobByKey(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNaturalKeyUniqueAmongNonFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	first := testJob(t)
	require.NoError(t, s.CreateJob(ctx, first))

	// Same natural key, still live: index rejects it
	second := testJob(t)
	second.ID = uuid.New()
	second.Analysis.AnalysisID = uuid.New()
	assert.ErrorIs(t, s.CreateJob(ctx, second), store.ErrDuplicateKey)

	// Mark the first FAILED: the same key may now be inserted again
	require.NoError(t, s.UpdateAnalysis(ctx, first.ID, store.WithStatus(models.StatusFailed)))
	require.NoError(t, s.CreateJob(ctx, second))

	// Lookup prefers the live record over the failed one
	found, err := s.FindJobByKey(ctx, store.JobKey{
		DefinitionRef:  first.DefinitionRef,
		DatasetHash:    first.DatasetHash,
		ParametersHash: first.ParametersHash,
		SnapshotID:     first.SnapshotID,
	})
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestUpdateAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, s.CreateJob(ctx, job))

	batchIDs := []string{"aws-1", "aws-2", "aws-3"}
	require.NoError(t, s.UpdateAnalysis(ctx, job.ID,
		store.WithStatus(models.StatusPending),
		store.WithAttempts(1),
		store.WithBatchJobs(batchIDs),
		store.WithUploadComplete(true),
	))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Analysis.Status)
	assert.Equal(t, 1, got.Analysis.Attempts)
	assert.Equal(t, batchIDs, got.Analysis.BatchJobs)
	assert.True(t, got.UploadComplete)

	assert.ErrorIs(t,
		s.UpdateAnalysis(ctx, uuid.New(), store.WithStatus(models.StatusPending)),
		store.ErrNotFound)
}

func TestUpdateAnalysisResultsAppliesOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateAnalysis(ctx, job.ID, store.WithStatus(models.StatusRunning)))

	results := []models.ResultEntry{
		{Key: "abc123/xyz/report.html", Name: "report.html", Path: "outputs/abc123/xyz/report.html"},
	}
	applied, err := s.UpdateAnalysisResults(ctx, job.ID, models.StatusSucceeded, results)
	require.NoError(t, err)
	assert.True(t, applied)

	// A racing poll computing the same terminal state is a no-op
	applied, err = s.UpdateAnalysisResults(ctx, job.ID, models.StatusSucceeded, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Analysis.Status)
	assert.Equal(t, results, got.Results)
}

func TestSoftDeleteDatasetJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.SoftDeleteDatasetJobs(ctx, job.DatasetID))

	_, err := s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	jobs, err := s.ListJobsByDataset(ctx, job.DatasetID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
