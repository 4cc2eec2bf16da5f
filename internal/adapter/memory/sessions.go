package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// SessionRepo stores sessions in memory. Usage counters are updated inside
// the critical section, so concurrent uploads to one session cannot
// undercount.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (r *SessionRepo) GetOrCreate(ctx context.Context, sessionID uuid.UUID, now time.Time) (*domain.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		out := *s
		return &out, false, nil
	}

	s := &domain.Session{
		ID:           sessionID,
		CreatedAt:    now,
		LastAccessed: now,
	}
	r.sessions[sessionID] = s
	out := *s
	return &out, true, nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := *s
	return &out, nil
}

func (r *SessionRepo) Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if now.After(s.LastAccessed) {
		s.LastAccessed = now
	}
	return nil
}

func (r *SessionRepo) AddUsage(ctx context.Context, sessionID uuid.UUID, bytes, uploads int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.StorageBytes += bytes
	if s.StorageBytes < 0 {
		s.StorageBytes = 0
	}
	s.UploadCount += uploads
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *SessionRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Session
	for _, s := range r.sessions {
		if s.LastAccessed.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *SessionRepo) ListByLastAccess(ctx context.Context, limit int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.Before(out[j].LastAccessed) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
