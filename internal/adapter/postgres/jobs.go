package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// jobColumns must match the Scan order in scanJob.
const jobColumns = `id, session_id, stage, status, progress, config, input_path, artifacts, error, created_at, started_at, completed_at`

// artifactRecord is the JSONB shape of a stored artifact. It exists because
// domain.Artifact hides Path from API responses but the path must survive
// persistence.
type artifactRecord struct {
	Kind      domain.ArtifactKind `json:"kind"`
	Name      string              `json:"name"`
	Path      string              `json:"path"`
	SizeBytes int64               `json:"size_bytes"`
}

func encodeArtifacts(artifacts []domain.Artifact) ([]byte, error) {
	records := make([]artifactRecord, len(artifacts))
	for i, a := range artifacts {
		records[i] = artifactRecord{Kind: a.Kind, Name: a.Name, Path: a.Path, SizeBytes: a.SizeBytes}
	}
	return json.Marshal(records)
}

func decodeArtifacts(raw []byte) ([]domain.Artifact, error) {
	var records []artifactRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	artifacts := make([]domain.Artifact, len(records))
	for i, r := range records {
		artifacts[i] = domain.Artifact{Kind: r.Kind, Name: r.Name, Path: r.Path, SizeBytes: r.SizeBytes}
	}
	return artifacts, nil
}

// JobRepo implements domain.JobRepository backed by PostgreSQL. The
// single-active-job invariant is enforced by a partial unique index, so it
// holds across all instances sharing the database.
type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) TryAdmit(ctx context.Context, job *domain.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	artifacts, err := encodeArtifacts(job.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (id, session_id, stage, status, progress, config, input_path, artifacts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.SessionID, job.Stage, domain.StatusPending, job.Progress, config, job.InputPath, artifacts, job.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "jobs_one_active_per_session_idx" {
		active, found, lookupErr := r.ActiveJob(ctx, job.SessionID)
		if lookupErr != nil {
			return fmt.Errorf("failed to look up active job after conflict: %w", lookupErr)
		}
		if !found {
			// The winner finished between our insert and the lookup.
			// Report busy anyway; the caller retries with a fresh job.
			return &domain.ActiveJobError{}
		}
		return &domain.ActiveJobError{JobID: active.ID, Stage: active.Stage}
	}
	if err != nil {
		return fmt.Errorf("failed to admit job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE session_id = $1`
	args := []any{sessionID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) ActiveJob(ctx context.Context, sessionID uuid.UUID) (*domain.Job, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE session_id = $1 AND status IN ('pending', 'running')`,
		sessionID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get active job: %w", err)
	}
	return job, true, nil
}

func (r *JobRepo) LatestCompleted(ctx context.Context, sessionID uuid.UUID, stage domain.Stage) (*domain.Job, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE session_id = $1 AND stage = $2 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1`,
		sessionID, stage)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get latest completed job: %w", err)
	}
	return job, true, nil
}

func (r *JobRepo) MarkRunning(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'`,
		jobID, at)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.notActiveReason(ctx, jobID)
	}
	return nil
}

// UpdateProgress only ever moves progress forward. Stale or out-of-order
// reports lose the max() race and become no-ops; updates against
// non-running jobs are dropped.
func (r *JobRepo) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress float64) error {
	if progress > 1.0 {
		progress = 1.0
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status = 'running'`,
		jobID, progress)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (r *JobRepo) Complete(ctx context.Context, jobID uuid.UUID, artifacts []domain.Artifact, at time.Time) error {
	encoded, err := encodeArtifacts(artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', progress = 1.0, artifacts = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, encoded, at)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.notActiveReason(ctx, jobID)
	}
	return nil
}

func (r *JobRepo) Fail(ctx context.Context, jobID uuid.UUID, jobErr domain.JobError, at time.Time) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("failed to encode job error: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, encoded, at)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.notActiveReason(ctx, jobID)
	}
	return nil
}

func (r *JobRepo) Cancel(ctx context.Context, jobID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already terminal; only the former is an error.
		if _, err := r.Get(ctx, jobID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *JobRepo) DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// notActiveReason distinguishes a missing job from one whose status no
// longer allows the attempted transition.
func (r *JobRepo) notActiveReason(ctx context.Context, jobID uuid.UUID) error {
	if _, err := r.Get(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrAlreadyTerminal
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job           domain.Job
		config        []byte
		artifacts     []byte
		jobErrPayload []byte
	)
	err := row.Scan(
		&job.ID, &job.SessionID, &job.Stage, &job.Status, &job.Progress,
		&config, &job.InputPath, &artifacts, &jobErrPayload,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to decode job config: %w", err)
	}
	if job.Artifacts, err = decodeArtifacts(artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts: %w", err)
	}
	if jobErrPayload != nil {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(jobErrPayload, job.Error); err != nil {
			return nil, fmt.Errorf("failed to decode job error: %w", err)
		}
	}
	return &job, nil
}
