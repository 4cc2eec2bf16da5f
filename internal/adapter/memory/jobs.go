// Package memory provides mutex-guarded in-process implementations of the
// repository contracts. They back the single-instance deployment and the
// unit tests; the postgres and redis adapters provide the same semantics for
// multi-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// JobRepo stores jobs in memory. Admission, cancellation, and progress
// updates all run inside one critical section, which makes each of them a
// single atomic read-modify-write.
type JobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[uuid.UUID]*domain.Job)}
}

// TryAdmit atomically checks for an active job in the session and inserts
// the new pending job. The check and the insert share the critical section,
// so two racing admissions cannot both pass.
func (r *JobRepo) TryAdmit(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.jobs {
		if existing.SessionID == job.SessionID && existing.Status.Active() {
			return &domain.ActiveJobError{JobID: existing.ID, Stage: existing.Stage}
		}
	}

	stored := cloneJob(job)
	stored.Status = domain.StatusPending
	r.jobs[stored.ID] = stored
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Job
	for _, job := range r.jobs {
		if job.SessionID != sessionID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, *cloneJob(job))
	}

	// Newest first, matching the history listing contract.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *JobRepo) ActiveJob(ctx context.Context, sessionID uuid.UUID) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.SessionID == sessionID && job.Status.Active() {
			return cloneJob(job), true, nil
		}
	}
	return nil, false, nil
}

func (r *JobRepo) LatestCompleted(ctx context.Context, sessionID uuid.UUID, stage domain.Stage) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.Job
	for _, job := range r.jobs {
		if job.SessionID != sessionID || job.Stage != stage || job.Status != domain.StatusCompleted {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return cloneJob(latest), true, nil
}

func (r *JobRepo) MarkRunning(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ErrAlreadyTerminal
	}
	job.Status = domain.StatusRunning
	started := at
	job.StartedAt = &started
	return nil
}

// UpdateProgress clamps to [previous, 1.0] so progress is monotonically
// non-decreasing for the job's lifetime. Updates on non-running jobs are
// dropped: the terminal state is authoritative.
func (r *JobRepo) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusRunning {
		return nil
	}
	if progress > 1.0 {
		progress = 1.0
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (r *JobRepo) Complete(ctx context.Context, jobID uuid.UUID, artifacts []domain.Artifact, at time.Time) error {
	return r.finish(jobID, at, func(job *domain.Job) {
		job.Status = domain.StatusCompleted
		job.Progress = 1.0
		job.Artifacts = append([]domain.Artifact(nil), artifacts...)
	})
}

func (r *JobRepo) Fail(ctx context.Context, jobID uuid.UUID, jobErr domain.JobError, at time.Time) error {
	return r.finish(jobID, at, func(job *domain.Job) {
		job.Status = domain.StatusFailed
		job.Error = &jobErr
	})
}

// Cancel transitions a non-terminal job to cancelled using the same
// conditional pattern as admission. Reports false when the job already
// reached a terminal status.
func (r *JobRepo) Cancel(ctx context.Context, jobID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = domain.StatusCancelled
	completed := at
	job.CompletedAt = &completed
	return true, nil
}

func (r *JobRepo) DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, job := range r.jobs {
		if job.SessionID == sessionID {
			delete(r.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *JobRepo) finish(jobID uuid.UUID, at time.Time, mutate func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	mutate(job)
	completed := at
	job.CompletedAt = &completed
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	out := *job
	out.Artifacts = append([]domain.Artifact(nil), job.Artifacts...)
	if job.Error != nil {
		errCopy := *job.Error
		out.Error = &errCopy
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
