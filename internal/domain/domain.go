package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// --- Model types ---

// Session is a client-scoped, time-limited context bounding uploads and jobs.
// A session expires 24 hours (configurable) after its last admitted request.
type Session struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	LastAccessed time.Time
	UploadCount  int64
	StorageBytes int64
}

// ExpiresAt derives the expiry instant from the last admitted request.
func (s Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.LastAccessed.Add(ttl)
}

// Job is one pipeline-stage execution unit tied to a session.
// Once a job reaches a terminal status it is never resurrected; a retry
// creates a new job.
type Job struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	Stage       Stage
	Status      Status
	Progress    float64
	Config      StageConfig
	InputPath   string
	Artifacts   []Artifact
	Error       *JobError
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StageConfig carries stage-specific inference parameters.
type StageConfig struct {
	Seed       int `json:"seed,omitempty"`
	Iterations int `json:"iterations,omitempty"`
}

// ArtifactKind identifies what a produced artifact is.
type ArtifactKind string

const (
	ArtifactModel    ArtifactKind = "model"    // the ingested source model
	ArtifactSkeleton ArtifactKind = "skeleton" // predicted skeleton
	ArtifactSkinning ArtifactKind = "skinning" // predicted skin weights
	ArtifactRigged   ArtifactKind = "rigged"   // final merged rig
)

// Artifact is a file produced by ingestion or by an inference stage.
// Path is always server-derived (session/job scoped), never a raw client name.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	Path      string       `json:"-"`
	SizeBytes int64        `json:"size_bytes"`
}

// JobError is the structured failure recorded on a failed job.
// Hint carries troubleshooting text as associated data.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// RateDecision is the outcome of a rate-limit admission check.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// PressureTier is a coarse classification of remaining storage headroom.
type PressureTier string

const (
	PressureOK       PressureTier = "ok"
	PressureWarning  PressureTier = "warning"
	PressureCritical PressureTier = "critical"
)

// DiskSnapshot reports filesystem capacity under the artifact root.
type DiskSnapshot struct {
	TotalBytes uint64       `json:"total_bytes"`
	UsedBytes  uint64       `json:"used_bytes"`
	FreeBytes  uint64       `json:"free_bytes"`
	Tier       PressureTier `json:"tier"`
}

// --- Repository interfaces ---

// JobFilter narrows job listings.
type JobFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// JobRepository persists jobs and enforces the status invariants.
//
// TryAdmit is the concurrency gate: it must atomically verify that the
// session has no job in a non-terminal status and insert the new pending job
// in the same conditional write. Implementations may not split this into a
// read followed by a write.
type JobRepository interface {
	TryAdmit(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID uuid.UUID) (*Job, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, filter JobFilter) ([]Job, error)
	ActiveJob(ctx context.Context, sessionID uuid.UUID) (*Job, bool, error)
	LatestCompleted(ctx context.Context, sessionID uuid.UUID, stage Stage) (*Job, bool, error)

	MarkRunning(ctx context.Context, jobID uuid.UUID, at time.Time) error
	UpdateProgress(ctx context.Context, jobID uuid.UUID, progress float64) error
	Complete(ctx context.Context, jobID uuid.UUID, artifacts []Artifact, at time.Time) error
	Fail(ctx context.Context, jobID uuid.UUID, jobErr JobError, at time.Time) error
	// Cancel transitions a non-terminal job to cancelled. It reports false
	// without error when the job already reached a terminal status.
	Cancel(ctx context.Context, jobID uuid.UUID, at time.Time) (bool, error)

	DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// SessionRepository persists sessions. Usage counters are updated with the
// same atomicity as the artifact write they accompany.
type SessionRepository interface {
	GetOrCreate(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Session, bool, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error
	AddUsage(ctx context.Context, sessionID uuid.UUID, bytes int64, uploads int64) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
	ListExpired(ctx context.Context, cutoff time.Time) ([]Session, error)
	// ListByLastAccess returns sessions ordered least-recently-accessed first.
	ListByLastAccess(ctx context.Context, limit int) ([]Session, error)
}

// RateLimiter is the sliding-window admission control for ingestion requests.
// Admit performs a single atomic read-modify-write: it prunes entries older
// than the window, and either records the new event or reports how long until
// the oldest entry leaves the window.
type RateLimiter interface {
	Admit(ctx context.Context, sessionID uuid.UUID) (RateDecision, error)
	// Forget drops the session's window when the session is deleted.
	Forget(ctx context.Context, sessionID uuid.UUID) error
}

// DiskMonitor reports free/used/total space and the derived pressure tier.
type DiskMonitor interface {
	Snapshot() (DiskSnapshot, error)
}

// ArtifactStore owns session-scoped artifact storage.
type ArtifactStore interface {
	// PurgeSession securely deletes everything under the session's storage
	// scope and returns the number of bytes reclaimed.
	PurgeSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
	SessionUsage(sessionID uuid.UUID) (int64, error)
	ResultsDir(sessionID, jobID uuid.UUID) (string, error)
}

// --- Inference collaborator ---

// InvokeRequest describes one inference stage execution. Inputs carries the
// prior artifacts the stage consumes, keyed by kind: skeleton needs the
// model, skinning the skeleton, merge the model plus both predictions.
type InvokeRequest struct {
	JobID     uuid.UUID
	Stage     Stage
	Inputs    map[ArtifactKind]string
	OutputDir string
	Config    StageConfig
}

// InvokeEvent is one element of the invocation stream: either a progress
// report or a terminal result (success with artifacts, or a failure).
type InvokeEvent struct {
	Progress  float64
	Terminal  bool
	Artifacts []Artifact
	Failure   *JobError
}

// Invoker is the external inference collaborator. The returned channel is
// closed after the terminal event. Cancelling ctx requests cooperative
// cancellation; the collaborator's own failure path reclaims its resources.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (<-chan InvokeEvent, error)
}
