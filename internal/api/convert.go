package api

import (
	"time"

	"vidpipe/internal/layout"
	"vidpipe/internal/queue"
)

// FromEntity converts a queue entity into its API representation. Artifacts
// are listed in canonical kind order.
func FromEntity(entity *queue.Entity) Entity {
	if entity == nil {
		return Entity{}
	}
	out := Entity{
		ID:           entity.ID,
		SourcePath:   entity.SourcePath,
		Status:       string(entity.Status),
		ErrorMessage: entity.ErrorMessage,
		CreatedAt:    formatTime(entity.CreatedAt),
		UpdatedAt:    formatTime(entity.UpdatedAt),
		Artifacts:    make([]Artifact, 0, len(entity.Artifacts)),
	}
	for _, kind := range layout.AllKinds() {
		artifact, ok := entity.Artifacts[kind]
		if !ok {
			continue
		}
		out.Artifacts = append(out.Artifacts, Artifact{
			Kind:      string(kind),
			State:     string(artifact.State),
			Path:      artifact.Path,
			Error:     artifact.Error,
			UpdatedAt: formatTime(artifact.UpdatedAt),
		})
	}
	return out
}

// FromJob converts a queue job into its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		ID:          job.ID,
		EntityID:    job.EntityID,
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		AvailableAt: formatTime(job.AvailableAt),
		LeaseOwner:  job.LeaseOwner,
		LastError:   job.LastError,
	}
	if job.LeaseExpiresAt != nil {
		out.LeaseExpiresAt = formatTime(*job.LeaseExpiresAt)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
