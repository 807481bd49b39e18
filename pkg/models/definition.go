package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisLevel is one named stage of a job definition. Parallel levels fan
// out one batch job per subject; serial levels submit a single job.
type AnalysisLevel struct {
	Name     string `json:"name"`
	Parallel bool   `json:"parallel"`
}

// EnvVar is a name/value environment entry passed into the job container.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// JobDefinition is a named, versioned analysis template. Definitions are
// immutable once registered; a change is a new revision, never an in-place
// update. ExternalRef is the batch service's fully qualified reference
// (name plus revision) and is what Job.DefinitionRef points at.
type JobDefinition struct {
	ID             uuid.UUID       `db:"id"           json:"id"`
	Name           string          `db:"name"         json:"name"`
	Revision       int32           `db:"revision"     json:"revision"`
	ExternalRef    string          `db:"external_ref" json:"external_ref"`
	Image          string          `db:"image"        json:"image"`
	VCPUs          int32           `db:"vcpus"        json:"vcpus"`
	MemoryMiB      int32           `db:"memory_mib"   json:"memory_mib"`
	AnalysisLevels []AnalysisLevel `json:"analysis_levels"`
	Environment    []EnvVar        `json:"environment,omitempty"`
	DeletedAt      *time.Time      `db:"deleted_at"   json:"-"`
	CreatedAt      time.Time       `db:"created_at"   json:"created_at"`
}
