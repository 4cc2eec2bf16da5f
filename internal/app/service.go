// Package app is the application layer: the only place that references
// multiple domain components. Service carries the request-path operations,
// Dispatcher hands admitted jobs to the inference collaborator, and
// CleanupEngine reclaims storage on its own timer.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/intake"
	"github.com/JoseETeixeira/UniRig-Interface/internal/metrics"
	apperrors "github.com/JoseETeixeira/UniRig-Interface/internal/platform/errors"
)

// Service orchestrates the upload and pipeline use cases.
type Service struct {
	sessions   domain.SessionRepository
	jobs       domain.JobRepository
	limiter    domain.RateLimiter
	intake     *intake.Intake
	artifacts  domain.ArtifactStore
	disk       domain.DiskMonitor
	dispatcher *Dispatcher
	clock      clockwork.Clock
	sessionTTL time.Duration

	// sessionGroup collapses concurrent first-requests for one session
	// into a single getOrCreate.
	sessionGroup singleflight.Group
}

func NewService(
	sessions domain.SessionRepository,
	jobs domain.JobRepository,
	limiter domain.RateLimiter,
	in *intake.Intake,
	artifacts domain.ArtifactStore,
	disk domain.DiskMonitor,
	dispatcher *Dispatcher,
	clock clockwork.Clock,
	sessionTTL time.Duration,
) *Service {
	return &Service{
		sessions:   sessions,
		jobs:       jobs,
		limiter:    limiter,
		intake:     in,
		artifacts:  artifacts,
		disk:       disk,
		dispatcher: dispatcher,
		clock:      clock,
		sessionTTL: sessionTTL,
	}
}

// SessionStats is the usage snapshot exposed to clients.
type SessionStats struct {
	Session   domain.Session
	ExpiresAt time.Time
}

func (s *Service) expired(session *domain.Session) bool {
	return s.clock.Now().After(session.ExpiresAt(s.sessionTTL))
}

// ensureSession creates the session on first contact or touches an
// existing live one. An expired session is not-found even before the
// sweep reclaims it.
func (s *Service) ensureSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	v, err, _ := s.sessionGroup.Do(sessionID.String(), func() (any, error) {
		now := s.clock.Now()
		session, created, err := s.sessions.GetOrCreate(ctx, sessionID, now)
		if err != nil {
			return nil, apperrors.InternalError("failed to resolve session", err)
		}
		if created {
			slog.InfoContext(ctx, "session created", "session_id", sessionID)
			return session, nil
		}
		if s.expired(session) {
			return nil, apperrors.NotFoundError("session expired")
		}
		if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
			return nil, apperrors.InternalError("failed to touch session", err)
		}
		session.LastAccessed = now
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

// liveSession resolves an existing, unexpired session and touches it.
// Unlike ensureSession it never creates one.
func (s *Service) liveSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, apperrors.NotFoundError("session not found")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to get session", err)
	}
	if s.expired(session) {
		return nil, apperrors.NotFoundError("session expired")
	}

	now := s.clock.Now()
	if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
		return nil, apperrors.InternalError("failed to touch session", err)
	}
	session.LastAccessed = now
	return session, nil
}

// SubmitArtifact validates and stores an uploaded model, records the
// completed ingest job, and updates the session's usage counters.
func (s *Service) SubmitArtifact(ctx context.Context, sessionID uuid.UUID, filename string, declaredSize int64, r io.Reader) (*domain.Job, error) {
	if _, err := s.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	decision, err := s.limiter.Admit(ctx, sessionID)
	if err != nil {
		return nil, apperrors.InternalError("rate limit check failed", err)
	}
	if !decision.Allowed {
		metrics.RateLimitDenialsTotal.Inc()
		return nil, apperrors.RateLimitedError("upload rate limit exceeded", decision.RetryAfter)
	}

	stored, err := s.intake.Store(sessionID, filename, declaredSize, r)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			if reason, ok := appErr.Context["reason"].(string); ok {
				metrics.UploadRejectionsTotal.WithLabelValues(reason).Inc()
			}
		}
		return nil, err
	}

	now := s.clock.Now()
	job := &domain.Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     domain.StageIngest,
		Status:    domain.StatusPending,
		InputPath: stored.Path,
		CreatedAt: now,
	}
	if err := s.jobs.TryAdmit(ctx, job); err != nil {
		// The upload lost the slot race; remove the stored file so the
		// rejection leaves no artifact behind.
		if rmErr := os.Remove(stored.Path); rmErr != nil {
			slog.ErrorContext(ctx, "failed to remove artifact after admission conflict", "path", stored.Path, "error", rmErr)
		}
		return nil, s.admissionError(err)
	}

	artifact := domain.Artifact{
		Kind:      domain.ArtifactModel,
		Name:      stored.Name,
		Path:      stored.Path,
		SizeBytes: stored.SizeBytes,
	}
	if err := s.jobs.Complete(ctx, job.ID, []domain.Artifact{artifact}, now); err != nil {
		return nil, apperrors.InternalError("failed to record ingest job", err)
	}
	if err := s.sessions.AddUsage(ctx, sessionID, stored.SizeBytes, 1); err != nil {
		return nil, apperrors.InternalError("failed to update session usage", err)
	}

	metrics.UploadsTotal.WithLabelValues("stored").Inc()
	metrics.UploadBytesTotal.Add(float64(stored.SizeBytes))
	metrics.JobTransitionsTotal.WithLabelValues(string(domain.StageIngest), string(domain.StatusCompleted)).Inc()
	slog.InfoContext(ctx, "artifact ingested",
		"session_id", sessionID, "job_id", job.ID, "name", stored.Name, "bytes", stored.SizeBytes)

	return s.snapshotJob(ctx, job.ID)
}

// TriggerStage admits and dispatches one inference stage. The returned job
// is pending; the caller polls get-job for progress and the terminal state.
func (s *Service) TriggerStage(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, config domain.StageConfig) (*domain.Job, error) {
	if _, err := s.liveSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if !stage.Valid() || stage == domain.StageIngest {
		return nil, apperrors.ValidationError("unknown pipeline stage").WithField("stage", string(stage))
	}

	inputs, err := s.stageInputs(ctx, sessionID, stage)
	if err != nil {
		return nil, err
	}

	if stage == domain.StageSkeleton && config.Seed == 0 {
		config.Seed = domain.DefaultSkeletonSeed
	}

	job := &domain.Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     stage,
		Status:    domain.StatusPending,
		Config:    config,
		InputPath: inputs[primaryInputKind(stage)],
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.TryAdmit(ctx, job); err != nil {
		return nil, s.admissionError(err)
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(stage), string(domain.StatusPending)).Inc()

	outputDir, err := s.artifacts.ResultsDir(sessionID, job.ID)
	if err != nil {
		failErr := domain.JobError{Code: domain.FailureExitStatus, Message: "failed to prepare output directory"}
		if err := s.jobs.Fail(ctx, job.ID, failErr, s.clock.Now()); err != nil {
			slog.ErrorContext(ctx, "failed to record dispatch failure", "job_id", job.ID, "error", err)
		}
		return nil, apperrors.InternalError("failed to prepare output directory", err)
	}

	s.dispatcher.Dispatch(job, inputs, outputDir)
	slog.InfoContext(ctx, "stage triggered", "session_id", sessionID, "job_id", job.ID, "stage", stage)

	return s.snapshotJob(ctx, job.ID)
}

// primaryInputKind is the artifact kind a stage consumes as its main input.
func primaryInputKind(stage domain.Stage) domain.ArtifactKind {
	if stage == domain.StageSkinning {
		return domain.ArtifactSkeleton
	}
	return domain.ArtifactModel
}

// stageInputs collects the prior artifacts a stage consumes. A stage may
// only start once its predecessor's artifact exists.
func (s *Service) stageInputs(ctx context.Context, sessionID uuid.UUID, stage domain.Stage) (map[domain.ArtifactKind]string, error) {
	var kinds []domain.ArtifactKind
	switch stage {
	case domain.StageSkeleton:
		kinds = []domain.ArtifactKind{domain.ArtifactModel}
	case domain.StageSkinning:
		kinds = []domain.ArtifactKind{domain.ArtifactSkeleton}
	case domain.StageMerge:
		kinds = []domain.ArtifactKind{domain.ArtifactModel, domain.ArtifactSkeleton, domain.ArtifactSkinning}
	}

	inputs := make(map[domain.ArtifactKind]string, len(kinds))
	for _, kind := range kinds {
		path, err := s.latestArtifact(ctx, sessionID, kind)
		if err != nil {
			return nil, err
		}
		inputs[kind] = path
	}
	return inputs, nil
}

func (s *Service) latestArtifact(ctx context.Context, sessionID uuid.UUID, kind domain.ArtifactKind) (string, error) {
	job, found, err := s.jobs.LatestCompleted(ctx, sessionID, kind.Producer())
	if err != nil {
		return "", apperrors.InternalError("failed to look up prior artifact", err)
	}
	if !found {
		return "", apperrors.ValidationError("prior stage has not completed").
			WithField("missing_artifact", string(kind)).
			WithHint("Run the pipeline stages in order: upload, skeleton, skinning, merge.")
	}
	for _, artifact := range job.Artifacts {
		if artifact.Kind == kind {
			return artifact.Path, nil
		}
	}
	return "", apperrors.InternalError("completed job is missing its artifact", nil)
}

func (s *Service) admissionError(err error) error {
	var conflict *domain.ActiveJobError
	if errors.As(err, &conflict) {
		metrics.JobAdmissionConflictsTotal.Inc()
		return apperrors.ConflictError("session already has an active job").
			WithField("active_job_id", conflict.JobID.String()).
			WithHint("Wait for the current job to finish, or cancel it first.")
	}
	return apperrors.InternalError("failed to admit job", err)
}

// GetJob returns a job snapshot scoped to the session.
func (s *Service) GetJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error) {
	if _, err := s.liveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.sessionJob(ctx, sessionID, jobID)
}

// ListJobs returns the session's job history, newest first.
func (s *Service) ListJobs(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error) {
	if _, err := s.liveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListBySession(ctx, sessionID, filter)
	if err != nil {
		return nil, apperrors.InternalError("failed to list jobs", err)
	}
	return jobs, nil
}

// CancelJob transitions a pending or running job to cancelled and signals
// the collaborator. The stored state is authoritative regardless of how
// fast the collaborator honors the signal.
func (s *Service) CancelJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error) {
	if _, err := s.liveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	job, err := s.sessionJob(ctx, sessionID, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.jobs.Cancel(ctx, jobID, s.clock.Now())
	if err != nil {
		return nil, apperrors.InternalError("failed to cancel job", err)
	}
	if !ok {
		return nil, apperrors.ConflictError("job already reached a terminal state").
			WithField("status", string(job.Status))
	}

	s.dispatcher.Abort(jobID)
	metrics.JobTransitionsTotal.WithLabelValues(string(job.Stage), string(domain.StatusCancelled)).Inc()
	slog.InfoContext(ctx, "job cancelled", "session_id", sessionID, "job_id", jobID)

	return s.snapshotJob(ctx, jobID)
}

// Stats returns the session's usage snapshot.
func (s *Service) Stats(ctx context.Context, sessionID uuid.UUID) (*SessionStats, error) {
	session, err := s.liveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStats{
		Session:   *session,
		ExpiresAt: session.ExpiresAt(s.sessionTTL),
	}, nil
}

// DeleteSession reclaims a session on explicit client request and reports
// the bytes freed. A session with an active job must be cancelled first.
func (s *Service) DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return 0, apperrors.NotFoundError("session not found")
	}
	if err != nil {
		return 0, apperrors.InternalError("failed to get session", err)
	}
	// An expired-but-unswept session is not-found like everywhere else;
	// the sweep reclaims its storage.
	if s.expired(session) {
		return 0, apperrors.NotFoundError("session expired")
	}

	if active, found, err := s.jobs.ActiveJob(ctx, sessionID); err != nil {
		return 0, apperrors.InternalError("failed to check active job", err)
	} else if found {
		return 0, apperrors.ConflictError("session has an active job").
			WithField("active_job_id", active.ID.String()).
			WithHint("Cancel the job before deleting the session.")
	}

	reclaimed, err := s.artifacts.PurgeSession(ctx, sessionID)
	if err != nil {
		return 0, apperrors.InternalError("failed to purge session artifacts", err)
	}
	if _, err := s.jobs.DeleteBySession(ctx, sessionID); err != nil {
		return reclaimed, apperrors.InternalError("failed to delete session jobs", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return reclaimed, apperrors.InternalError("failed to delete session", err)
	}
	if err := s.limiter.Forget(ctx, sessionID); err != nil {
		slog.WarnContext(ctx, "failed to drop rate limit window", "session_id", sessionID, "error", err)
	}

	metrics.SessionsReclaimedTotal.WithLabelValues("client_request").Inc()
	metrics.BytesReclaimedTotal.Add(float64(reclaimed))
	slog.InfoContext(ctx, "session deleted", "session_id", sessionID, "bytes_reclaimed", reclaimed)
	return reclaimed, nil
}

// DiskState reports capacity and the derived pressure tier.
func (s *Service) DiskState(ctx context.Context) (domain.DiskSnapshot, error) {
	snapshot, err := s.disk.Snapshot()
	if err != nil {
		return domain.DiskSnapshot{}, apperrors.InternalError("failed to read disk state", err)
	}
	return snapshot, nil
}

func (s *Service) sessionJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, apperrors.NotFoundError("job not found")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to get job", err)
	}
	if job.SessionID != sessionID {
		return nil, apperrors.NotFoundError("job not found")
	}
	return job, nil
}

func (s *Service) snapshotJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, apperrors.InternalError("failed to read back job", err)
	}
	return job, nil
}
