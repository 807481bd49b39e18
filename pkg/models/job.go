package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/pkg/params"
)

// Job is one user submission of an analysis against a dataset snapshot.
// The (DefinitionRef, DatasetHash, ParametersHash, SnapshotID) tuple is the
// natural key used for deduplication: at most one non-FAILED record may
// exist per tuple. Created on submission; mutated only by the chain
// submitter (batch job IDs, status to PENDING) and the status reconciler
// (later transitions plus the result listing).
type Job struct {
	ID             uuid.UUID     `db:"id"              json:"id"`
	Name           string        `db:"name"            json:"name"`
	DefinitionRef  string        `db:"definition_ref"  json:"definition_ref"`
	DatasetID      string        `db:"dataset_id"      json:"dataset_id"`
	SnapshotID     string        `db:"snapshot_id"     json:"snapshot_id"`
	DatasetHash    string        `db:"dataset_hash"    json:"dataset_hash"`
	ParametersHash string        `db:"parameters_hash" json:"parameters_hash"`
	Parameters     *params.Map   `db:"parameters"      json:"parameters"`
	Analysis       Analysis      `json:"analysis"`
	Results        []ResultEntry `db:"results"         json:"results,omitempty"`
	UploadComplete bool          `db:"upload_complete" json:"upload_complete"`
	DeletedAt      *time.Time    `db:"deleted_at"      json:"-"`
	CreatedAt      time.Time     `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"      json:"updated_at"`
}

// Analysis is the embedded lifecycle state of a Job.
type Analysis struct {
	AnalysisID uuid.UUID `db:"analysis_id"         json:"analysis_id"`
	Status     Status    `db:"status"              json:"status"`
	Attempts   int       `db:"attempts"            json:"attempts"`
	BatchJobs  []string  `db:"batch_jobs"          json:"batch_jobs,omitempty"`
	CreatedAt  time.Time `db:"analysis_created_at" json:"created_at"`
}

// ResultEntry points at one output object produced by an analysis.
type ResultEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// ResultPrefix is the object-store prefix holding a job's outputs.
func (j *Job) ResultPrefix() string {
	return j.DatasetHash + "/" + j.Analysis.AnalysisID.String() + "/"
}
