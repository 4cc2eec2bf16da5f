package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/memory"
	"github.com/JoseETeixeira/UniRig-Interface/internal/artifact"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

type fakeLeader struct {
	mu       sync.Mutex
	allow    bool
	acquired int
	released int
}

func (l *fakeLeader) TryBecomeLeader(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return l.allow, nil
}

func (l *fakeLeader) RenewLease(ctx context.Context) error {
	return nil
}

func (l *fakeLeader) ReleaseLease(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

// tierSequence returns one pressure tier per Snapshot call, sticking on the
// last one.
type tierSequence struct {
	mu    sync.Mutex
	tiers []domain.PressureTier
	calls int
}

func (d *tierSequence) Snapshot() (domain.DiskSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	if i >= len(d.tiers) {
		i = len(d.tiers) - 1
	}
	d.calls++
	return domain.DiskSnapshot{TotalBytes: 100 << 30, FreeBytes: 1 << 30, Tier: d.tiers[i]}, nil
}

type cleanupFixture struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	sessions *memory.SessionRepo
	jobs     *memory.JobRepo
	store    *artifact.Store
	limiter  *memory.RateLimiter
	disk     *tierSequence
	leader   *fakeLeader
	engine   *CleanupEngine
}

const (
	cleanupTTL      = time.Hour
	cleanupInterval = 2 * time.Hour
)

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sessions := memory.NewSessionRepo()
	jobs := memory.NewJobRepo()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	// Window longer than the TTL so a forgotten window is observable.
	limiter := memory.NewRateLimiter(clock, 1, 48*time.Hour)
	disk := &tierSequence{tiers: []domain.PressureTier{domain.PressureOK}}
	leader := &fakeLeader{allow: true}

	engine := NewCleanupEngine(sessions, jobs, store, limiter, disk, leader, clock, cleanupTTL, cleanupInterval)
	t.Cleanup(engine.Stop)
	return &cleanupFixture{
		t:        t,
		clock:    clock,
		sessions: sessions,
		jobs:     jobs,
		store:    store,
		limiter:  limiter,
		disk:     disk,
		leader:   leader,
		engine:   engine,
	}
}

// seedSession creates a session with one stored file.
func (f *cleanupFixture) seedSession() uuid.UUID {
	f.t.Helper()
	sessionID := uuid.New()
	_, _, err := f.sessions.GetOrCreate(context.Background(), sessionID, f.clock.Now())
	require.NoError(f.t, err)

	dir, err := f.store.UploadDir(sessionID)
	require.NoError(f.t, err)
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "model.obj"), []byte("v 0 0 0\n"), 0o600))
	require.NoError(f.t, f.sessions.AddUsage(context.Background(), sessionID, 8, 1))
	return sessionID
}

func (f *cleanupFixture) sessionExists(sessionID uuid.UUID) bool {
	f.t.Helper()
	_, err := f.sessions.Get(context.Background(), sessionID)
	return err == nil
}

func TestCleanup_ReclaimsExpiredSessions(t *testing.T) {
	f := newCleanupFixture(t)

	stale := f.seedSession()
	f.clock.Advance(cleanupTTL + time.Minute)
	fresh := f.seedSession()

	f.engine.Sweep(context.Background())

	assert.False(t, f.sessionExists(stale), "expired session should be reclaimed")
	assert.True(t, f.sessionExists(fresh), "live session must survive")

	staleDir, err := f.store.UploadDir(stale)
	require.NoError(t, err)
	entries, err := os.ReadDir(staleDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "reclaimed session's files should be gone")
}

func TestCleanup_ReclaimDropsRateLimitWindow(t *testing.T) {
	f := newCleanupFixture(t)

	stale := f.seedSession()
	decision, err := f.limiter.Admit(context.Background(), stale)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	f.clock.Advance(cleanupTTL + time.Minute)
	f.engine.Sweep(context.Background())
	require.False(t, f.sessionExists(stale))

	// The window outlives the TTL, so only a forgotten window admits again.
	decision, err = f.limiter.Admit(context.Background(), stale)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "reclaimed session's rate limit window should be dropped")
}

func TestCleanup_ExpiredSessionWithActiveJobIsSkipped(t *testing.T) {
	f := newCleanupFixture(t)

	sessionID := f.seedSession()
	job := &domain.Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     domain.StageSkeleton,
		Status:    domain.StatusPending,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.jobs.TryAdmit(context.Background(), job))
	require.NoError(t, f.jobs.MarkRunning(context.Background(), job.ID, f.clock.Now()))

	f.clock.Advance(cleanupTTL + time.Minute)
	f.engine.Sweep(context.Background())

	assert.True(t, f.sessionExists(sessionID), "a session with a running job is never reclaimed")
	_, err := f.jobs.Get(context.Background(), job.ID)
	assert.NoError(t, err)
}

func TestCleanup_EmergencySweepEvictsLeastRecentlyUsed(t *testing.T) {
	f := newCleanupFixture(t)

	oldest := f.seedSession()
	f.clock.Advance(time.Minute)
	newest := f.seedSession()

	// Neither session is expired; only disk pressure forces eviction.
	// Critical on the pre-sweep check, relieved after one reclaim.
	f.disk.tiers = []domain.PressureTier{domain.PressureCritical, domain.PressureOK}

	f.engine.Sweep(context.Background())

	assert.False(t, f.sessionExists(oldest), "LRU session should be evicted first")
	assert.True(t, f.sessionExists(newest), "eviction stops once pressure is relieved")
}

func TestCleanup_EmergencySweepNeverEvictsRunningJobs(t *testing.T) {
	f := newCleanupFixture(t)

	busy := f.seedSession()
	job := &domain.Job{
		ID:        uuid.New(),
		SessionID: busy,
		Stage:     domain.StageSkinning,
		Status:    domain.StatusPending,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.jobs.TryAdmit(context.Background(), job))
	require.NoError(t, f.jobs.MarkRunning(context.Background(), job.ID, f.clock.Now()))

	f.clock.Advance(time.Minute)
	idle := f.seedSession()

	// Pressure never lets up; the sweep must still leave the busy session
	// alone after exhausting every other candidate.
	f.disk.tiers = []domain.PressureTier{domain.PressureCritical}

	f.engine.Sweep(context.Background())

	assert.True(t, f.sessionExists(busy), "session with a running job survives even under critical pressure")
	assert.False(t, f.sessionExists(idle))
}

func TestCleanup_NonLeaderSkipsSweep(t *testing.T) {
	f := newCleanupFixture(t)
	f.leader.allow = false

	stale := f.seedSession()
	f.clock.Advance(cleanupTTL + time.Minute)

	f.engine.Sweep(context.Background())

	assert.True(t, f.sessionExists(stale), "non-leader must not reclaim anything")
	assert.Equal(t, 1, f.leader.acquired)
	assert.Zero(t, f.leader.released)
}

func TestCleanup_LeaderLeaseIsReleased(t *testing.T) {
	f := newCleanupFixture(t)

	f.engine.Sweep(context.Background())

	assert.Equal(t, 1, f.leader.acquired)
	assert.Equal(t, 1, f.leader.released)
}

func TestCleanup_PeriodicTicker(t *testing.T) {
	f := newCleanupFixture(t)

	stale := f.seedSession()

	f.engine.Start()
	require.NoError(t, f.clock.BlockUntilContext(t.Context(), 1))

	// One interval later the session is past its TTL and gets swept.
	f.clock.Advance(cleanupInterval)
	require.Eventually(t, func() bool {
		return !f.sessionExists(stale)
	}, 2*time.Second, 5*time.Millisecond, "ticker sweep never reclaimed the expired session")

	f.engine.Stop()
}
