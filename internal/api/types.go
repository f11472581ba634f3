package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// UploadRequest is the body of POST /api/v1/entities.
type UploadRequest struct {
	ID         string `json:"id"`
	SourcePath string `json:"sourcePath"`
}

// Artifact describes one derived artifact of an entity.
type Artifact struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Entity describes an entity in a transport-friendly format.
type Entity struct {
	ID           string     `json:"id"`
	SourcePath   string     `json:"sourcePath"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Artifacts    []Artifact `json:"artifacts"`
	CreatedAt    string     `json:"createdAt,omitempty"`
	UpdatedAt    string     `json:"updatedAt,omitempty"`
}

// Job describes a queued job.
type Job struct {
	ID             int64  `json:"id"`
	EntityID       string `json:"entityId"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	AvailableAt    string `json:"availableAt,omitempty"`
	LeaseOwner     string `json:"leaseOwner,omitempty"`
	LeaseExpiresAt string `json:"leaseExpiresAt,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

// EntityResponse wraps a single entity.
type EntityResponse struct {
	Entity Entity `json:"entity"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
