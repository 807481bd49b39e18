package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/objectstore"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// memStore is an in-memory Store good enough for orchestrator tests: it
// enforces the natural-key rule and mirrors the conditional terminal write.
type memStore struct {
	store.Store
	mu           sync.Mutex
	jobs         map[uuid.UUID]*models.Job
	defs         map[string]*models.JobDefinition
	resultWrites int
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[uuid.UUID]*models.Job),
		defs: make(map[string]*models.JobDefinition),
	}
}

func (s *memStore) addDefinition(def *models.JobDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ExternalRef] = def
}

func (s *memStore) GetJobDefinitionByRef(_ context.Context, ref string) (*models.JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return def, nil
}

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.DefinitionRef == job.DefinitionRef &&
			existing.DatasetHash == job.DatasetHash &&
			existing.ParametersHash == job.ParametersHash &&
			existing.SnapshotID == job.SnapshotID &&
			existing.Analysis.Status != models.StatusFailed &&
			existing.DeletedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) FindJobByKey(_ context.Context, key store.JobKey) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed *models.Job
	for _, job := range s.jobs {
		if job.DefinitionRef != key.DefinitionRef ||
			job.DatasetHash != key.DatasetHash ||
			job.ParametersHash != key.ParametersHash ||
			job.SnapshotID != key.SnapshotID ||
			job.DeletedAt != nil {
			continue
		}
		if job.Analysis.Status != models.StatusFailed {
			cp := *job
			return &cp, nil
		}
		failed = job
	}
	if failed != nil {
		cp := *failed
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) UpdateAnalysis(_ context.Context, id uuid.UUID, opts ...store.AnalysisUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	store.ApplyAnalysisUpdate(job, opts...)
	return nil
}

func (s *memStore) UpdateAnalysisResults(_ context.Context, id uuid.UUID, status models.Status, results []models.ResultEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if job.Analysis.Status.Terminal() {
		return false, nil
	}
	job.Analysis.Status = status
	job.Results = results
	s.resultWrites++
	return true, nil
}

func (s *memStore) job(id uuid.UUID) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.jobs[id]
	return &cp
}

type mockBatch struct {
	mu            sync.Mutex
	submits       []batch.SubmitRequest
	submitErr     error
	summaries     []batch.JobSummary
	describeErr   error
	describeCalls int
	nextID        int
}

func (b *mockBatch) RegisterJobDefinition(context.Context, *models.JobDefinition) (string, int32, error) {
	return "", 0, errors.New("not implemented")
}

func (b *mockBatch) DeregisterJobDefinition(context.Context, string) error {
	return errors.New("not implemented")
}

func (b *mockBatch) SubmitJob(_ context.Context, req batch.SubmitRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.nextID++
	b.submits = append(b.submits, req)
	return fmt.Sprintf("batch-%d", b.nextID), nil
}

func (b *mockBatch) DescribeJobs(context.Context, []string) ([]batch.JobSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.describeCalls++
	if b.describeErr != nil {
		return nil, b.describeErr
	}
	return b.summaries, nil
}

func (b *mockBatch) submitted() []batch.SubmitRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]batch.SubmitRequest(nil), b.submits...)
}

type mockDataset struct {
	hash      string
	exportErr error
}

func (d *mockDataset) ExportSnapshot(context.Context, string, string) (string, error) {
	if d.exportErr != nil {
		return "", d.exportErr
	}
	return d.hash, nil
}

func (d *mockDataset) OpenSnapshot(context.Context, string, string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("archive")), 7, nil
}

func (d *mockDataset) Ready(context.Context) error { return nil }

type mockObjects struct {
	mu      sync.Mutex
	uploads []string
	entries map[string][]objectstore.Entry
	listErr error
	lists   int
}

func newMockObjects() *mockObjects {
	return &mockObjects{entries: make(map[string][]objectstore.Entry)}
}

func (o *mockObjects) Upload(_ context.Context, bucket, key string, r io.Reader, _ int64) error {
	io.Copy(io.Discard, r)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads = append(o.uploads, bucket+"/"+key)
	return nil
}

func (o *mockObjects) ListPrefix(_ context.Context, bucket, prefix string) ([]objectstore.Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists++
	if o.listErr != nil {
		return nil, o.listErr
	}
	return o.entries[bucket+"/"+prefix], nil
}

func (o *mockObjects) GetObject(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("content")), nil
}

func (o *mockObjects) Ping(context.Context) error { return nil }

func (o *mockObjects) uploadCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.uploads)
}

func (o *mockObjects) listCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lists
}

type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.Status
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[uuid.UUID]models.Status)}
}

func (c *mockCache) Ping(context.Context) error { return nil }

func (c *mockCache) SetAnalysisStatus(_ context.Context, jobID uuid.UUID, status models.Status, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *mockCache) GetAnalysisStatus(_ context.Context, jobID uuid.UUID) (models.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

func (c *mockCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *mockCache) status(jobID uuid.UUID) (models.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok
}

// testEnv bundles a Service wired to mocks.
type testEnv struct {
	svc     *Service
	store   *memStore
	batch   *mockBatch
	dataset *mockDataset
	objects *mockObjects
	cache   *mockCache
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   newMemStore(),
		batch:   &mockBatch{},
		dataset: &mockDataset{hash: "hash123"},
		objects: newMockObjects(),
		cache:   newMockCache(),
	}
	cfg := Config{
		JobQueue:      "analysis-queue",
		DatasetBucket: "datasets",
		OutputBucket:  "outputs",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewService(env.store, env.cache, env.batch, env.dataset, env.objects, cfg, logger)
	return env
}

func testDefinition() *models.JobDefinition {
	return &models.JobDefinition{
		ID:          uuid.New(),
		Name:        "fmriprep",
		Revision:    1,
		ExternalRef: "arn:batch:fmriprep:1",
		Image:       "example/fmriprep:latest",
		VCPUs:       4,
		MemoryMiB:   16384,
		AnalysisLevels: []models.AnalysisLevel{
			{Name: "participant", Parallel: true},
			{Name: "group"},
		},
	}
}
