package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	sessionID := uuid.New()
	now := time.Now()

	created, isNew, err := repo.GetOrCreate(ctx, sessionID, now)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, now, created.CreatedAt)

	again, isNew, err := repo.GetOrCreate(ctx, sessionID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, now, again.CreatedAt)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	sessionID := uuid.New()
	now := time.Now()

	_, _, err := repo.GetOrCreate(ctx, sessionID, now)
	require.NoError(t, err)

	require.NoError(t, repo.Touch(ctx, sessionID, now.Add(time.Hour)))
	require.NoError(t, repo.Touch(ctx, sessionID, now.Add(time.Minute)))

	s, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), s.LastAccessed)
}

func TestAddUsageAccumulates(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	sessionID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, sessionID, time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.AddUsage(ctx, sessionID, 1024, 1))
	require.NoError(t, repo.AddUsage(ctx, sessionID, 2048, 1))

	s, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3072), s.StorageBytes)
	assert.Equal(t, int64(2), s.UploadCount)
}

func TestAddUsageClampsAtZero(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	sessionID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, sessionID, time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.AddUsage(ctx, sessionID, 100, 1))
	require.NoError(t, repo.AddUsage(ctx, sessionID, -500, 0))

	s, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Zero(t, s.StorageBytes)
}

func TestDeleteRemovesSession(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	sessionID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, sessionID, time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, sessionID))

	_, err = repo.Get(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, sessionID), domain.ErrSessionNotFound)
}

func TestListExpired(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	now := time.Now()

	stale := uuid.New()
	_, _, err := repo.GetOrCreate(ctx, stale, now.Add(-25*time.Hour))
	require.NoError(t, err)

	fresh := uuid.New()
	_, _, err = repo.GetOrCreate(ctx, fresh, now)
	require.NoError(t, err)

	expired, err := repo.ListExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale, expired[0].ID)
}

func TestListByLastAccessOrdersOldestFirst(t *testing.T) {
	repo := NewSessionRepo()
	ctx := context.Background()
	now := time.Now()

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		_, _, err := repo.GetOrCreate(ctx, ids[i], now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	all, err := repo.ListByLastAccess(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[0], all[0].ID)
	assert.Equal(t, ids[2], all[2].ID)

	limited, err := repo.ListByLastAccess(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[0], limited[0].ID)
}
