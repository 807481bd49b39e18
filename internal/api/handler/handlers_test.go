package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/api/handler"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/orchestrator"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockOrchestrator struct {
	submitJob *models.Job
	submitErr error
	lastReq   orchestrator.SubmitRequest
	pollJob   *models.Job
	pollErr   error
	retryJob  *models.Job
	retryErr  error
}

func (m *mockOrchestrator) Submit(_ context.Context, req orchestrator.SubmitRequest) (*models.Job, error) {
	m.lastReq = req
	return m.submitJob, m.submitErr
}

func (m *mockOrchestrator) Poll(context.Context, uuid.UUID) (*models.Job, error) {
	return m.pollJob, m.pollErr
}

func (m *mockOrchestrator) Retry(context.Context, uuid.UUID) (*models.Job, error) {
	return m.retryJob, m.retryErr
}

type mockRegistrar struct {
	registerErr error
	disabled    []string
	disableErr  error
}

func (m *mockRegistrar) Register(_ context.Context, def *models.JobDefinition) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	def.ID = uuid.New()
	def.Revision = 1
	def.ExternalRef = "arn:batch:" + def.Name + ":1"
	return nil
}

func (m *mockRegistrar) Disable(_ context.Context, name string) error {
	if m.disableErr != nil {
		return m.disableErr
	}
	m.disabled = append(m.disabled, name)
	return nil
}

type mockJobGetter struct {
	job *models.Job
	err error
}

func (m *mockJobGetter) GetJob(context.Context, uuid.UUID) (*models.Job, error) {
	return m.job, m.err
}

type mockArchiver struct {
	payload string
	err     error
}

func (m *mockArchiver) Stream(_ context.Context, w io.Writer, _ *models.Job) error {
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte(m.payload))
	return err
}

// --- helpers ---

func routed(method, pattern string, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	return r
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody(t, w)["error"].(map[string]any)["code"].(string)
}

func sampleJob(status models.Status) *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		DatasetID:   "ds000001",
		SnapshotID:  "1.0.0",
		DatasetHash: "hash123",
		Analysis:    models.Analysis{AnalysisID: uuid.New(), Status: status},
	}
}

// --- submit ---

func TestSubmitJob(t *testing.T) {
	svc := &mockOrchestrator{submitJob: sampleJob(models.StatusUploading)}
	h := routed("POST", "/api/v1/datasets/{datasetID}/jobs", handler.NewSubmitJobHandler(svc))

	body := `{"name":"my analysis","definition_ref":"arn:batch:fmriprep:1","snapshot_id":"1.0.0","parameters":{"participant_label":["01","02"]}}`
	req := httptest.NewRequest("POST", "/api/v1/datasets/ds000001/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ds000001", svc.lastReq.DatasetID)
	assert.Equal(t, "arn:batch:fmriprep:1", svc.lastReq.DefinitionRef)
	subjects, ok := svc.lastReq.Parameters.StringSlice("participant_label")
	require.True(t, ok)
	assert.Equal(t, []string{"01", "02"}, subjects)

	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, svc.submitJob.ID.String(), data["id"])
}

func TestSubmitJobValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing definition_ref", `{"snapshot_id":"1.0.0"}`},
		{"missing snapshot_id", `{"definition_ref":"arn:batch:fmriprep:1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := routed("POST", "/api/v1/datasets/{datasetID}/jobs", handler.NewSubmitJobHandler(&mockOrchestrator{}))
			req := httptest.NewRequest("POST", "/api/v1/datasets/ds000001/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
		})
	}
}

func TestSubmitJobErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{orchestrator.ErrDuplicateSubmission, http.StatusConflict, "DUPLICATE_SUBMISSION"},
		{orchestrator.ErrMissingSubjectList, http.StatusUnprocessableEntity, "MISSING_SUBJECT_LIST"},
		{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			svc := &mockOrchestrator{submitErr: tt.err}
			h := routed("POST", "/api/v1/datasets/{datasetID}/jobs", handler.NewSubmitJobHandler(svc))

			body := `{"definition_ref":"arn:batch:fmriprep:1","snapshot_id":"1.0.0"}`
			req := httptest.NewRequest("POST", "/api/v1/datasets/ds000001/jobs", strings.NewReader(body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errCode(t, w))
		})
	}
}

// --- poll / retry ---

func TestPollJob(t *testing.T) {
	svc := &mockOrchestrator{pollJob: sampleJob(models.StatusRunning)}
	h := routed("GET", "/api/v1/datasets/{datasetID}/jobs/{jobID}", handler.NewPollJobHandler(svc))

	req := httptest.NewRequest("GET", "/api/v1/datasets/ds000001/jobs/"+svc.pollJob.ID.String(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	analysis := data["analysis"].(map[string]any)
	assert.Equal(t, "RUNNING", analysis["status"])
}

func TestPollJobInvalidID(t *testing.T) {
	h := routed("GET", "/api/v1/datasets/{datasetID}/jobs/{jobID}", handler.NewPollJobHandler(&mockOrchestrator{}))

	req := httptest.NewRequest("GET", "/api/v1/datasets/ds000001/jobs/not-a-uuid", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollJobNotFound(t *testing.T) {
	svc := &mockOrchestrator{pollErr: store.ErrNotFound}
	h := routed("GET", "/api/v1/datasets/{datasetID}/jobs/{jobID}", handler.NewPollJobHandler(svc))

	req := httptest.NewRequest("GET", "/api/v1/datasets/ds000001/jobs/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryJob(t *testing.T) {
	svc := &mockOrchestrator{retryJob: sampleJob(models.StatusUploading)}
	h := routed("POST", "/api/v1/datasets/{datasetID}/jobs/{jobID}/retry", handler.NewRetryJobHandler(svc))

	req := httptest.NewRequest("POST", "/api/v1/datasets/ds000001/jobs/"+svc.retryJob.ID.String()+"/retry", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRetryJobNotSupported(t *testing.T) {
	svc := &mockOrchestrator{retryErr: orchestrator.ErrRetryNotSupported}
	h := routed("POST", "/api/v1/datasets/{datasetID}/jobs/{jobID}/retry", handler.NewRetryJobHandler(svc))

	req := httptest.NewRequest("POST", "/api/v1/datasets/ds000001/jobs/"+uuid.NewString()+"/retry", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RETRY_NOT_SUPPORTED", errCode(t, w))
}

// --- definitions ---

func TestRegisterDefinition(t *testing.T) {
	reg := &mockRegistrar{}
	h := routed("POST", "/api/v1/definitions", handler.NewRegisterDefinitionHandler(reg))

	body := `{"name":"fmriprep","image":"example/fmriprep:latest","vcpus":4,"memory_mib":16384,"analysis_levels":[{"name":"participant","parallel":true},{"name":"group"}]}`
	req := httptest.NewRequest("POST", "/api/v1/definitions", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "arn:batch:fmriprep:1", data["external_ref"])
	assert.Equal(t, float64(1), data["revision"])
}

func TestRegisterDefinitionResourceLimit(t *testing.T) {
	reg := &mockRegistrar{registerErr: batchInvalidResource()}
	h := routed("POST", "/api/v1/definitions", handler.NewRegisterDefinitionHandler(reg))

	body := `{"name":"fmriprep","image":"x","vcpus":99,"memory_mib":1,"analysis_levels":[{"name":"group"}]}`
	req := httptest.NewRequest("POST", "/api/v1/definitions", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RESOURCE_REQUEST", errCode(t, w))
}

func TestDisableDefinition(t *testing.T) {
	reg := &mockRegistrar{}
	h := routed("DELETE", "/api/v1/definitions/{name}", handler.NewDisableDefinitionHandler(reg))

	req := httptest.NewRequest("DELETE", "/api/v1/definitions/fmriprep", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"fmriprep"}, reg.disabled)
}

// --- results download ---

func TestDownloadResults(t *testing.T) {
	job := sampleJob(models.StatusSucceeded)
	h := routed("GET", "/api/v1/jobs/{jobID}/results/download",
		handler.NewDownloadResultsHandler(&mockJobGetter{job: job}, &mockArchiver{payload: "zipbytes"}, discardLogger()))

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID.String()+"/results/download", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), job.ID.String())
	assert.Equal(t, "zipbytes", w.Body.String())
}

func TestDownloadResultsNotReady(t *testing.T) {
	job := sampleJob(models.StatusRunning)
	h := routed("GET", "/api/v1/jobs/{jobID}/results/download",
		handler.NewDownloadResultsHandler(&mockJobGetter{job: job}, &mockArchiver{}, discardLogger()))

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID.String()+"/results/download", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RESULTS_NOT_READY", errCode(t, w))
}

func TestDownloadResultsUnknownJob(t *testing.T) {
	h := routed("GET", "/api/v1/jobs/{jobID}/results/download",
		handler.NewDownloadResultsHandler(&mockJobGetter{err: store.ErrNotFound}, &mockArchiver{}, discardLogger()))

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+uuid.NewString()+"/results/download", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func batchInvalidResource() error {
	return fmt.Errorf("%w: 99 vcpus requested, ceiling is 8", batch.ErrInvalidResourceRequest)
}
