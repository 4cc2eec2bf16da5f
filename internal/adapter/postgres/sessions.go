package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// sessionColumns must match the Scan order in scanSession.
const sessionColumns = `id, created_at, last_accessed, upload_count, storage_bytes`

// SessionRepo implements domain.SessionRepository backed by PostgreSQL.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) GetOrCreate(ctx context.Context, sessionID uuid.UUID, now time.Time) (*domain.Session, bool, error) {
	// ON CONFLICT DO NOTHING plus a follow-up read keeps concurrent
	// first-requests for the same session from failing.
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, created_at, last_accessed)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING`,
		sessionID, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return session, tag.RowsAffected() > 0, nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *SessionRepo) Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_accessed = GREATEST(last_accessed, $2)
		WHERE id = $1`,
		sessionID, now)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) AddUsage(ctx context.Context, sessionID uuid.UUID, bytes, uploads int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET storage_bytes = GREATEST(storage_bytes + $2, 0),
		    upload_count = upload_count + $3
		WHERE id = $1`,
		sessionID, bytes, uploads)
	if err != nil {
		return fmt.Errorf("failed to update session usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE last_accessed < $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *SessionRepo) ListByLastAccess(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY last_accessed ASC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.CreatedAt, &s.LastAccessed, &s.UploadCount, &s.StorageBytes)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
