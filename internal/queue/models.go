package queue

import (
	"time"

	"vidpipe/internal/layout"
)

// EntityStatus summarises the state of all artifacts of an entity.
type EntityStatus string

const (
	EntityUploaded        EntityStatus = "uploaded"
	EntityProcessing      EntityStatus = "processing"
	EntityReady           EntityStatus = "ready"
	EntityPartiallyFailed EntityStatus = "partially_failed"
	EntityFailed          EntityStatus = "failed"
)

// ArtifactState tracks one derived artifact.
type ArtifactState string

const (
	ArtifactPending   ArtifactState = "pending"
	ArtifactSucceeded ArtifactState = "succeeded"
	ArtifactFailed    ArtifactState = "failed"
)

// JobStatus is the lifecycle of a queued job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// AllJobStatuses lists job statuses in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobPending, JobRunning, JobSucceeded, JobFailed}
}

// ParseJobStatus converts user input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	for _, status := range AllJobStatuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Artifact is the recorded outcome of one kind for an entity. Path is set
// only when State is ArtifactSucceeded.
type Artifact struct {
	Kind      layout.Kind
	State     ArtifactState
	Path      string
	Error     string
	UpdatedAt time.Time
}

// Entity is an uploaded media record and its derived artifacts.
type Entity struct {
	ID           string
	SourcePath   string
	Status       EntityStatus
	ErrorMessage string
	Artifacts    map[layout.Kind]Artifact
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
	CleanupError string
}

// Deleted reports whether the entity carries a tombstone.
func (e *Entity) Deleted() bool {
	return e != nil && e.DeletedAt != nil
}

// Job is one unit of work producing a single artifact.
type Job struct {
	ID             int64
	EntityID       string
	SourcePath     string
	Kind           layout.Kind
	Status         JobStatus
	Attempts       int
	AvailableAt    time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	EntityID string
	Statuses []JobStatus
	Limit    int
}

// ReclaimResult reports the outcome of a lease reclaim pass.
type ReclaimResult struct {
	Requeued int
	Failed   int
}
