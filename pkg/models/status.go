package models

// Status is the lifecycle state of an analysis. Transitions:
//
//	UPLOADING -> PENDING -> RUNNING -> COMPLETING -> {SUCCEEDED, FAILED}
//
// FAILED is also reachable directly from PENDING/RUNNING on submission
// error. SUCCEEDED and FAILED are terminal.
type Status string

const (
	StatusUploading  Status = "UPLOADING"
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleting Status = "COMPLETING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition occurs from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Retryable reports whether a record in this state may be resubmitted.
// Only failed analyses are retryable.
func (s Status) Retryable() bool {
	return s == StatusFailed
}

// Valid reports whether s is a member of the closed status enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusUploading, StatusPending, StatusRunning,
		StatusCompleting, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}
