package domain

import "strings"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobExpired    JobStatus = "expired"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the remote service will not change the status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus maps the remote batch status vocabulary onto JobStatus.
func ParseJobStatus(remote string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "validating", "queued":
		return JobQueued
	case "in_progress", "finalizing", "cancelling":
		return JobInProgress
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	case "expired":
		return JobExpired
	case "cancelled":
		return JobCancelled
	default:
		return JobQueued
	}
}

type JobCounts struct {
	Total     int
	Completed int
	Failed    int
}

// Job is a remote asynchronous batch job. It is only ever replaced by a newer
// observation from the service, never edited locally.
type Job struct {
	ID           string
	InputFileID  string
	Status       JobStatus
	RemoteStatus string
	OutputFileID string
	ErrorFileID  string
	Errors       []string
	Counts       JobCounts
}

// ChunkRecord is what the ledger keeps about one chunk's job.
type ChunkRecord struct {
	ChunkIndex int
	Records    int
	Job        *Job
	Err        error
}
