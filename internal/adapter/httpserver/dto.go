package httpserver

import (
	"time"

	"github.com/google/uuid"

	"github.com/JoseETeixeira/UniRig-Interface/internal/app"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// jobResponse is the job snapshot shape sent to clients. Artifact paths
// stay server-side; client retrieval is by kind.
type jobResponse struct {
	JobID       uuid.UUID          `json:"job_id"`
	SessionID   uuid.UUID          `json:"session_id"`
	Stage       domain.Stage       `json:"stage"`
	Status      domain.Status      `json:"status"`
	Progress    float64            `json:"progress"`
	Config      domain.StageConfig `json:"config"`
	Artifacts   []domain.Artifact  `json:"artifacts,omitempty"`
	Error       *domain.JobError   `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		Stage:       job.Stage,
		Status:      job.Status,
		Progress:    job.Progress,
		Config:      job.Config,
		Artifacts:   job.Artifacts,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

func toJobResponses(jobs []domain.Job) []jobResponse {
	out := make([]jobResponse, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	return out
}

type jobListResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}

type sessionStatsResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
	UploadCount  int64     `json:"upload_count"`
	StorageBytes int64     `json:"storage_bytes"`
}

func toSessionStatsResponse(stats *app.SessionStats) sessionStatsResponse {
	return sessionStatsResponse{
		SessionID:    stats.Session.ID,
		CreatedAt:    stats.Session.CreatedAt,
		LastAccessed: stats.Session.LastAccessed,
		ExpiresAt:    stats.ExpiresAt,
		UploadCount:  stats.Session.UploadCount,
		StorageBytes: stats.Session.StorageBytes,
	}
}

type deleteSessionResponse struct {
	SessionID      uuid.UUID `json:"session_id"`
	ReclaimedBytes int64     `json:"reclaimed_bytes"`
}

type diskSpaceResponse struct {
	TotalBytes uint64              `json:"total_bytes"`
	UsedBytes  uint64              `json:"used_bytes"`
	FreeBytes  uint64              `json:"free_bytes"`
	Tier       domain.PressureTier `json:"tier"`
}
